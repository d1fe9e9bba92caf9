// Completion: 100% - Scoped constructs complete
package engine

import (
	"errors"
	"fmt"
)

// Scoped constructs
//
// A scope acquires resources and emits entry code when entered, and emits exit
// code and releases everything it acquired when exited. Within guarantees the
// exit runs even when the body fails or panics. Scopes are single-use:
// Created -> Entered -> Exited.

// ScopeState is the lifecycle position of a scope
type ScopeState int

const (
	ScopeCreated ScopeState = iota
	ScopeEntered
	ScopeExited
)

func (s ScopeState) String() string {
	switch s {
	case ScopeCreated:
		return "created"
	case ScopeEntered:
		return "entered"
	case ScopeExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Direction is how a loop counter moves
type Direction int

const (
	Increment Direction = iota
	Decrement
)

func (d Direction) String() string {
	switch d {
	case Increment:
		return "increment"
	case Decrement:
		return "decrement"
	default:
		return "unknown"
	}
}

// ParseDirection parses "inc"/"increment" or "dec"/"decrement"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "inc", "increment", "up":
		return Increment, nil
	case "dec", "decrement", "down":
		return Decrement, nil
	default:
		return 0, fmt.Errorf("unknown loop direction %q (use increment or decrement)", s)
	}
}

// Scope is a structured begin/end construct
type Scope interface {
	Enter() error
	Exit() error
	State() ScopeState
}

// Within enters s, runs body, and exits s on every path out of body
func (c *Context) Within(s Scope, body func() error) (err error) {
	if err := s.Enter(); err != nil {
		return err
	}
	defer func() {
		if xerr := s.Exit(); xerr != nil {
			err = errors.Join(err, xerr)
		}
	}()
	if body == nil {
		return nil
	}
	return body()
}

// scopeBase carries the state machine and the resources to give back
type scopeBase struct {
	ctx     *Context
	name    string
	state   ScopeState
	held    []*Resource // reserved by this scope, freed on exit
	regions []*Region   // allocated by this scope, released on exit
}

func (s *scopeBase) State() ScopeState {
	return s.state
}

func (s *scopeBase) begin() error {
	if s.state != ScopeCreated {
		return newError(ErrScopeState, "%s cannot be entered when %s", s.name, s.state)
	}
	return nil
}

// hold reserves a register for the scope's lifetime
func (s *scopeBase) hold(sel Selector) (*Resource, error) {
	r, err := s.ctx.Pool.AcquireAndReserve(sel)
	if err != nil {
		return nil, err
	}
	s.held = append(s.held, r)
	return r, nil
}

func (s *scopeBase) allocate(req AllocRequest) (*Region, error) {
	r, err := s.ctx.Memory.Allocate(req)
	if err != nil {
		return nil, err
	}
	s.regions = append(s.regions, r)
	return r, nil
}

// finish releases everything and marks the scope exited
func (s *scopeBase) finish() {
	for _, r := range s.held {
		s.ctx.Pool.Free(r)
	}
	for _, r := range s.regions {
		s.ctx.Memory.Release(r)
	}
	s.held, s.regions = nil, nil
	s.state = ScopeExited
}

// end reports whether Exit has anything to do. Exiting twice is a no-op.
func (s *scopeBase) end() (bool, error) {
	switch s.state {
	case ScopeEntered:
		return true, nil
	case ScopeExited:
		return false, nil
	default:
		return false, newError(ErrScopeState, "%s cannot be exited when %s", s.name, s.state)
	}
}

// Loop repeats its body Count times using a counter register
type Loop struct {
	scopeBase
	Count     int64
	Direction Direction

	counter *Resource
	bound   *Resource
	label   string
	skip    string // exit label when Count is 0
}

// NewLoop validates the arguments. counter may be nil to have one acquired on entry.
// The loop is tested at the bottom, so a count of 0 branches over the body.
func (c *Context) NewLoop(count int64, dir Direction, counter *Resource) (*Loop, error) {
	if count < 0 {
		return nil, newError(ErrScopeState, "loop count must not be negative, got %d", count)
	}
	if dir != Increment && dir != Decrement {
		return nil, newError(ErrScopeState, "invalid loop direction %d", int(dir))
	}
	if counter != nil && counter.Class != ClassGPR {
		return nil, newError(ErrInvalidOperandType, "loop counter %s is not a general purpose register", counter)
	}
	return &Loop{
		scopeBase: scopeBase{ctx: c, name: "loop"},
		Count:     count,
		Direction: dir,
		counter:   counter,
	}, nil
}

// Counter returns the counter register (nil before Enter when none was supplied)
func (l *Loop) Counter() *Resource {
	return l.counter
}

// Label returns the loop-top label
func (l *Loop) Label() string {
	return l.label
}

// Enter reserves the counter (and a bound register where the architecture
// needs one), initializes it and emits the loop-top label
func (l *Loop) Enter() error {
	if err := l.begin(); err != nil {
		return err
	}
	c := l.ctx
	d := c.Profile.Dialect
	width := c.Profile.AddressWidth

	if l.counter == nil {
		r, err := l.hold(Selector{Class: ClassGPR, Width: width})
		if err != nil {
			return err
		}
		l.counter = r
	} else if !l.counter.Reserved() {
		c.Pool.Reserve(l.counter)
		l.held = append(l.held, l.counter)
	}

	if d.NeedsBound(l.Direction, l.Count) {
		r, err := l.hold(Selector{Class: ClassGPR, Width: width})
		if err != nil {
			l.finish()
			return err
		}
		l.bound = r
	}

	start := int64(0)
	if l.Direction == Decrement {
		start = l.Count
	}
	l.label = c.NewLabel("loop")
	c.Emit(d.LoadImmediate(l.counter.Text(width), start))
	if l.bound != nil {
		c.Emit(d.LoadImmediate(l.bound.Text(width), l.Count))
	}
	if l.Count == 0 {
		l.skip = c.NewLabel("loop_end")
		c.Emit(d.Branch(l.skip))
	}
	c.Emit(Instruction{Kind: KindLabel, Mnemonic: l.label, Comment: fmt.Sprintf("%s x%d", l.Direction, l.Count)})
	l.state = ScopeEntered
	c.debugf("enter %s with counter %s", l.label, l.counter)
	return nil
}

// Exit steps the counter, branches back to the loop top and frees the registers
func (l *Loop) Exit() error {
	if ok, err := l.end(); !ok {
		return err
	}
	c := l.ctx
	width := c.Profile.AddressWidth
	bound := ""
	if l.bound != nil {
		bound = l.bound.Text(width)
	}
	c.Emit(c.Profile.Dialect.LoopStep(l.counter.Text(width), bound, l.Direction, l.Count, l.label)...)
	if l.skip != "" {
		c.Emit(labelLine(l.skip))
	}
	c.debugf("exit %s", l.label)
	l.finish()
	return nil
}

// segmentSize is the code region reserved for one segment body
const segmentSize = 4096

// BranchToSegment moves the body into a code region of its own: entry loads
// the region's address into a target register and branches there, exit
// branches back and releases the region. The body is emitted into a
// section named after the region.
type BranchToSegment struct {
	scopeBase
	region *Region
	back   string
}

// NewBranchToSegment creates the scope
func (c *Context) NewBranchToSegment() *BranchToSegment {
	return &BranchToSegment{scopeBase: scopeBase{ctx: c, name: "segment"}}
}

// Segment returns the symbol of the segment entry (empty before Enter)
func (b *BranchToSegment) Segment() string {
	if b.region == nil {
		return ""
	}
	return b.region.Name
}

// Region returns the code region holding the body (nil before Enter)
func (b *BranchToSegment) Region() *Region {
	return b.region
}

func (b *BranchToSegment) Enter() error {
	if err := b.begin(); err != nil {
		return err
	}
	c := b.ctx
	d := c.Profile.Dialect
	width := c.Profile.AddressWidth
	region, err := b.allocate(AllocRequest{Size: segmentSize, Align: 16, Type: MemCode, Sharing: SharingPrivate})
	if err != nil {
		return err
	}
	region.inline = true
	target, err := b.hold(Selector{Class: ClassGPR, Width: width})
	if err != nil {
		b.finish()
		return err
	}
	b.region = region
	b.back = c.NewLabel("segment_return")
	text := target.Text(width)
	c.Emit(
		d.LoadAddress(text, region.Name),
		d.BranchRegister(text),
		directive(".pushsection", fmt.Sprintf("%s.core%d.%s", MemCode.section(), c.Core, region.Name), `"ax"`),
		Instruction{Kind: KindLabel, Mnemonic: region.Name, Comment: fmt.Sprintf("va=0x%x size=%d", region.Address, region.Size)},
	)
	// The target register is only needed for the jump itself
	c.Pool.Free(target)
	b.held = nil
	b.state = ScopeEntered
	return nil
}

func (b *BranchToSegment) Exit() error {
	if ok, err := b.end(); !ok {
		return err
	}
	c := b.ctx
	c.Emit(
		c.Profile.Dialect.Branch(b.back),
		directive(".popsection"),
		labelLine(b.back),
	)
	b.finish()
	return nil
}

// EventTrigger holds a pattern value in a reserved register for the body and
// stores it into an event region on exit, where an external observer
// (another core, a checker) picks it up
type EventTrigger struct {
	scopeBase
	Pattern int64

	reg    *Resource
	region *Region
}

// NewEventTrigger creates the scope
func (c *Context) NewEventTrigger(pattern int64) *EventTrigger {
	return &EventTrigger{scopeBase: scopeBase{ctx: c, name: "event trigger"}, Pattern: pattern}
}

// Region returns the event region (nil before Enter)
func (e *EventTrigger) Region() *Region {
	return e.region
}

func (e *EventTrigger) Enter() error {
	if err := e.begin(); err != nil {
		return err
	}
	c := e.ctx
	width := c.Profile.AddressWidth
	reg, err := e.hold(Selector{Class: ClassGPR, Width: width})
	if err != nil {
		return err
	}
	region, err := e.allocate(AllocRequest{Size: 8, Align: 8, Type: MemSharedData, Sharing: SharingShared})
	if err != nil {
		e.finish()
		return err
	}
	e.reg, e.region = reg, region
	c.Emit(c.Profile.Dialect.LoadImmediate(reg.Text(width), e.Pattern))
	e.state = ScopeEntered
	return nil
}

func (e *EventTrigger) Exit() error {
	if ok, err := e.end(); !ok {
		return err
	}
	c := e.ctx
	d := c.Profile.Dialect
	width := c.Profile.AddressWidth

	addr, err := c.Pool.Lease(Selector{Class: ClassGPR, Width: width})
	if err != nil {
		e.finish()
		return err
	}
	defer addr.Release()

	symbol, offset := e.region.Symbol()
	base := addr.Resource().Text(width)
	c.Emit(
		d.LoadAddress(base, symbol),
		d.Store(e.reg.Text(width), MemoryRef{Width: 64, Base: base, Offset: int64(offset)}),
	)
	e.finish()
	return nil
}
