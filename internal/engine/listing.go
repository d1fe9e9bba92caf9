package engine

import (
	"bufio"
	"io"
	"strings"
)

// InstrKind tells labels and directives apart from real instructions
type InstrKind int

const (
	KindInstruction InstrKind = iota
	KindLabel
	KindDirective
)

// Instruction is one generated line: mnemonic plus ordered operand text
type Instruction struct {
	Kind     InstrKind
	Mnemonic string
	Operands []string
	Comment  string
}

// Format renders the line using the given comment prefix
func (i Instruction) Format(commentPrefix string) string {
	var sb strings.Builder
	switch i.Kind {
	case KindLabel:
		sb.WriteString(i.Mnemonic)
		sb.WriteString(":")
	default:
		sb.WriteString("\t")
		sb.WriteString(i.Mnemonic)
		if len(i.Operands) > 0 {
			sb.WriteString(" ")
			sb.WriteString(strings.Join(i.Operands, ", "))
		}
	}
	if i.Comment != "" {
		sb.WriteString("\t")
		sb.WriteString(commentPrefix)
		sb.WriteString(" ")
		sb.WriteString(i.Comment)
	}
	return sb.String()
}

func (i Instruction) String() string {
	return i.Format("#")
}

// Sink receives generated lines in program order
type Sink interface {
	Emit(ins ...Instruction)
}

// Listing is an append-only Sink that serializes to assembly text
type Listing struct {
	dialect Dialect
	lines   []Instruction
}

// NewListing creates an empty listing for a dialect
func NewListing(d Dialect) *Listing {
	return &Listing{dialect: d}
}

// Emit appends lines
func (l *Listing) Emit(ins ...Instruction) {
	l.lines = append(l.lines, ins...)
}

// Lines returns a copy of all lines emitted so far
func (l *Listing) Lines() []Instruction {
	return append([]Instruction(nil), l.lines...)
}

// Len returns the number of lines
func (l *Listing) Len() int {
	return len(l.lines)
}

// WriteTo writes the listing as assembly text
func (l *Listing) WriteTo(w io.Writer) (int64, error) {
	return writeLines(w, l.dialect, l.lines)
}

func writeLines(w io.Writer, d Dialect, lines []Instruction) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, line := range lines {
		n, err := bw.WriteString(line.Format(d.CommentPrefix()) + "\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}
