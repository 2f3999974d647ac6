package policy

import "fmt"

// Node is the declarative form of a condition tree, as produced by the CUE
// configuration compiler. Exactly one field must be set per node; All/Any/Not
// nest arbitrarily. The node set is closed: this is configuration for the
// fixed combinator engine, not a user-programmable rule language.
type Node struct {
	All []*Node `json:"all,omitempty"`
	Any []*Node `json:"any,omitempty"`
	Not *Node   `json:"not,omitempty"`

	Payer      bool   `json:"payer,omitempty"`
	Receiver   bool   `json:"receiver,omitempty"`
	Principal  string `json:"principal,omitempty"`
	Always     bool   `json:"always,omitempty"`
	TVLLimit   uint64 `json:"tvl_limit,omitempty"`
	Releasable bool   `json:"releasable,omitempty"`
}

// RecorderNode is the declarative form of a recorder tree.
type RecorderNode struct {
	FanOut []*RecorderNode `json:"fan_out,omitempty"`

	StampAuthorization bool `json:"stamp_authorization,omitempty"`
	IndexPayment       bool `json:"index_payment,omitempty"`
}

// BuildCondition constructs the Condition a node tree describes. The
// timelock may be nil when no node in the tree references it; a releasable
// node without a timelock is a configuration error.
func BuildCondition(n *Node, tl *Timelock) (Condition, error) {
	if n == nil {
		return nil, NewConfigError("condition node is nil")
	}
	switch {
	case n.All != nil:
		children, err := buildChildren(n.All, tl)
		if err != nil {
			return nil, err
		}
		return And(children...)
	case n.Any != nil:
		children, err := buildChildren(n.Any, tl)
		if err != nil {
			return nil, err
		}
		return Or(children...)
	case n.Not != nil:
		child, err := BuildCondition(n.Not, tl)
		if err != nil {
			return nil, err
		}
		return Not(child)
	case n.Payer:
		return PayerIsCaller(), nil
	case n.Receiver:
		return ReceiverIsCaller(), nil
	case n.Principal != "":
		return Principal(n.Principal)
	case n.Always:
		return AlwaysTrue(), nil
	case n.TVLLimit > 0:
		return TVLLimit(n.TVLLimit)
	case n.Releasable:
		if tl == nil {
			return nil, NewConfigError("releasable node requires a timelock policy")
		}
		return tl.ReleasableCondition(), nil
	default:
		return nil, NewConfigError("condition node sets no recognized form")
	}
}

func buildChildren(nodes []*Node, tl *Timelock) ([]Condition, error) {
	children := make([]Condition, len(nodes))
	for i, n := range nodes {
		c, err := BuildCondition(n, tl)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		children[i] = c
	}
	return children, nil
}

// BuildRecorder constructs the Recorder a node tree describes.
func BuildRecorder(n *RecorderNode, tl *Timelock) (Recorder, error) {
	if n == nil {
		return nil, NewConfigError("recorder node is nil")
	}
	switch {
	case n.FanOut != nil:
		children := make([]Recorder, len(n.FanOut))
		for i, child := range n.FanOut {
			r, err := BuildRecorder(child, tl)
			if err != nil {
				return nil, fmt.Errorf("child %d: %w", i, err)
			}
			children[i] = r
		}
		return FanOut(children...)
	case n.StampAuthorization:
		if tl == nil {
			return nil, NewConfigError("stamp_authorization node requires a timelock policy")
		}
		return tl.StampRecorder(), nil
	case n.IndexPayment:
		return PaymentIndex(), nil
	default:
		return nil, NewConfigError("recorder node sets no recognized form")
	}
}

// EncodeMap returns the node as a canonical-marshalable map for
// content-addressed instance keys. Unset fields are omitted so semantically
// identical trees encode identically.
func (n *Node) EncodeMap() map[string]any {
	if n == nil {
		return nil
	}
	m := map[string]any{}
	if n.All != nil {
		m["all"] = encodeNodeList(n.All)
	}
	if n.Any != nil {
		m["any"] = encodeNodeList(n.Any)
	}
	if n.Not != nil {
		m["not"] = n.Not.EncodeMap()
	}
	if n.Payer {
		m["payer"] = true
	}
	if n.Receiver {
		m["receiver"] = true
	}
	if n.Principal != "" {
		m["principal"] = n.Principal
	}
	if n.Always {
		m["always"] = true
	}
	if n.TVLLimit > 0 {
		m["tvl_limit"] = n.TVLLimit
	}
	if n.Releasable {
		m["releasable"] = true
	}
	return m
}

func encodeNodeList(nodes []*Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n.EncodeMap()
	}
	return out
}

// EncodeMap returns the recorder node as a canonical-marshalable map.
func (n *RecorderNode) EncodeMap() map[string]any {
	if n == nil {
		return nil
	}
	m := map[string]any{}
	if n.FanOut != nil {
		out := make([]any, len(n.FanOut))
		for i, child := range n.FanOut {
			out[i] = child.EncodeMap()
		}
		m["fan_out"] = out
	}
	if n.StampAuthorization {
		m["stamp_authorization"] = true
	}
	if n.IndexPayment {
		m["index_payment"] = true
	}
	return m
}
