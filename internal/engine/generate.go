// Completion: 100% - Generation entry point complete
package engine

// Generate picks count templates matching q (nil for any) that can take src and
// dest, binds each, appends the result to the listing and returns it.
// Either every instruction is generated or none is emitted.
func (c *Context) Generate(count int, q Predicate, src, dest *Operand, comment string) ([]Instruction, error) {
	var cons []Constraint
	if src != nil {
		cons = append(cons, Constraint{Role: RoleSrc, Operand: src})
	}
	if dest != nil {
		cons = append(cons, Constraint{Role: RoleDest, Operand: dest})
	}

	var out []Instruction
	for n := 0; n < count; n++ {
		t, err := c.catalog.Pick(c.rng, q, cons...)
		if err != nil {
			return nil, err
		}
		ins, err := c.bind(t, src, dest, comment)
		if err != nil {
			return nil, err
		}
		out = append(out, ins...)
	}
	c.Emit(out...)
	return out, nil
}

// GenerateQuery is Generate with the textual query form
func (c *Context) GenerateQuery(count int, query string, src, dest *Operand, comment string) ([]Instruction, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return c.Generate(count, q, src, dest, comment)
}
