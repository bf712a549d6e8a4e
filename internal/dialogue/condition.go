package dialogue

import (
	"fmt"

	"github.com/AaronLay10/SentientDialogue/internal/tags"
)

// ConditionKind is the closed set of branch condition kinds.
type ConditionKind string

const (
	CondAlways  ConditionKind = "always"
	CondFact    ConditionKind = "fact"
	CondCompare ConditionKind = "compare"
	CondTag     ConditionKind = "tag"
	CondAll     ConditionKind = "all"
	CondAny     ConditionKind = "any"
	CondNot     ConditionKind = "not"
)

// CompareOp is a numeric comparison used by CondCompare.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
)

// Condition guards fork edges and gates.
//
//   - always:  true
//   - fact:    Predicates.Fact(Name) is known and true
//   - compare: Predicates.Value(Name) is known and satisfies Op against Value
//   - tag:     Predicates.HasTag(Tag)
//   - all/any: conjunction/disjunction of Children (empty all is true, empty any is false)
//   - not:     negation of the single child
type Condition struct {
	Kind     ConditionKind
	Name     string
	Op       CompareOp
	Value    float64
	Tag      tags.Tag
	Children []*Condition
}

// Predicates is the read-only view of gameplay state supplied by the
// AI/behavior collaborator. The engine never mutates it.
type Predicates interface {
	Fact(name string) (value bool, known bool)
	Value(name string) (value float64, known bool)
	HasTag(tag tags.Tag) bool
}

// Eval evaluates the condition. A nil condition is always true.
func (c *Condition) Eval(p Predicates) bool {
	if c == nil {
		return true
	}

	switch c.Kind {
	case CondAlways, "":
		return true

	case CondFact:
		if p == nil {
			return false
		}
		v, ok := p.Fact(c.Name)
		return ok && v

	case CondCompare:
		if p == nil {
			return false
		}
		v, ok := p.Value(c.Name)
		if !ok {
			return false
		}
		return compare(v, c.Op, c.Value)

	case CondTag:
		if p == nil {
			return false
		}
		return p.HasTag(c.Tag)

	case CondAll:
		for _, child := range c.Children {
			if !child.Eval(p) {
				return false
			}
		}
		return true

	case CondAny:
		for _, child := range c.Children {
			if child.Eval(p) {
				return true
			}
		}
		return false

	case CondNot:
		if len(c.Children) != 1 {
			return false
		}
		return !c.Children[0].Eval(p)
	}

	return false
}

// Validate checks structural correctness.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case CondAlways, "":
	case CondFact:
		if c.Name == "" {
			return fmt.Errorf("fact condition requires a name")
		}
	case CondCompare:
		if c.Name == "" {
			return fmt.Errorf("compare condition requires a name")
		}
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		default:
			return fmt.Errorf("compare condition %q: unknown op %q", c.Name, c.Op)
		}
	case CondTag:
		if c.Tag == "" {
			return fmt.Errorf("tag condition requires a tag")
		}
	case CondAll, CondAny:
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	case CondNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("not condition requires exactly one child, got %d", len(c.Children))
		}
		return c.Children[0].Validate()
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

func compare(v float64, op CompareOp, target float64) bool {
	switch op {
	case OpEq:
		return v == target
	case OpNe:
		return v != target
	case OpLt:
		return v < target
	case OpLe:
		return v <= target
	case OpGt:
		return v > target
	case OpGe:
		return v >= target
	}
	return false
}
