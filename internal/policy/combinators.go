package policy

import (
	"context"

	"github.com/covenant-labs/covenant/internal/pay"
)

// MaxFanIn bounds the number of children a combinator may hold. The bound
// keeps evaluation cost predictable regardless of how trees are nested.
const MaxFanIn = 10

func validateChildren[T any](kind string, children []T) error {
	if len(children) == 0 {
		return NewConfigError("%s: at least one child is required", kind)
	}
	if len(children) > MaxFanIn {
		return NewConfigError("%s: %d children exceeds the maximum of %d", kind, len(children), MaxFanIn)
	}
	for i, c := range children {
		if any(c) == nil {
			return NewConfigError("%s: child %d is nil", kind, i)
		}
	}
	return nil
}

type andCondition struct {
	children []Condition
}

// And creates a conjunction of 1-10 conditions. Evaluation is left-to-right
// and short-circuits on the first false result.
func And(children ...Condition) (Condition, error) {
	if err := validateChildren("and", children); err != nil {
		return nil, err
	}
	return &andCondition{children: children}, nil
}

func (c *andCondition) Check(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, caller string) (bool, error) {
	for _, child := range c.children {
		ok, err := child.Check(ctx, env, p, amount, caller)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

type orCondition struct {
	children []Condition
}

// Or creates a disjunction of 1-10 conditions. Evaluation is left-to-right
// and short-circuits on the first true result.
func Or(children ...Condition) (Condition, error) {
	if err := validateChildren("or", children); err != nil {
		return nil, err
	}
	return &orCondition{children: children}, nil
}

func (c *orCondition) Check(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, caller string) (bool, error) {
	for _, child := range c.children {
		ok, err := child.Check(ctx, env, p, amount, caller)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type notCondition struct {
	child Condition
}

// Not negates exactly one condition.
func Not(child Condition) (Condition, error) {
	if child == nil {
		return nil, NewConfigError("not: child is nil")
	}
	return &notCondition{child: child}, nil
}

func (c *notCondition) Check(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, caller string) (bool, error) {
	ok, err := c.child.Check(ctx, env, p, amount, caller)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type fanOutRecorder struct {
	children []Recorder
}

// FanOut creates a recorder that invokes 1-10 sub-recorders in order. There
// is no short-circuiting: every child must succeed, and the first failure
// propagates and aborts the enclosing action.
func FanOut(children ...Recorder) (Recorder, error) {
	if err := validateChildren("fan-out", children); err != nil {
		return nil, err
	}
	return &fanOutRecorder{children: children}, nil
}

func (r *fanOutRecorder) Record(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, caller string) error {
	for _, child := range r.children {
		if err := child.Record(ctx, env, p, amount, caller); err != nil {
			return err
		}
	}
	return nil
}
