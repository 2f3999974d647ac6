// Package compiler parses declarative operator definitions written in CUE
// into specs the operator builder and registry consume. Parsing and
// semantic validation are separate passes: CompileBytes accepts anything
// structurally well-formed, Validate enforces the policy engine's rules.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/covenant-labs/covenant/internal/policy"
)

// Definition is one compiled definition file: a set of named operators.
type Definition struct {
	Operators map[string]*OperatorSpec
}

// OperatorSpec is the declarative form of one operator configuration. Nil
// slot nodes mean the slot is unconfigured (open condition, no recorder);
// nil fee rates mean that component is zero.
type OperatorSpec struct {
	Name string

	FeeRecipient         string
	ProtocolFeeRecipient string
	ProtocolFeeBps       *uint32
	OperatorFeeBps       *uint32

	Timelock *TimelockSpec

	Authorize        SlotSpec
	Charge           SlotSpec
	Release          SlotSpec
	RefundInEscrow   SlotSpec
	RefundPostEscrow SlotSpec
}

// TimelockSpec is the declarative escrow-period/freeze sub-policy.
type TimelockSpec struct {
	Period         int64
	FreezeDuration int64
	Freeze         *policy.Node
	Unfreeze       *policy.Node
}

// SlotSpec pairs the declarative condition and recorder of one action slot.
type SlotSpec struct {
	Condition *policy.Node
	Recorder  *policy.RecorderNode
}

// CompileBytes parses a CUE definition file. Uses the CUE SDK's Go API
// directly (not CLI subprocess).
//
// The expected shape is:
//
//	operator: checkout: {
//	    fee_recipient: "fee-box"
//	    operator_fee_bps: 50
//	    release: condition: {receiver: true}
//	}
func CompileBytes(data []byte, filename string) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileValue(v)
}

// CompileValue extracts a definition from an already-built CUE value, for
// callers that load whole directories through cue/load.
func CompileValue(v cue.Value) (*Definition, error) {
	opVal := v.LookupPath(cue.ParsePath("operator"))
	if !opVal.Exists() {
		return nil, &CompileError{
			Field:   "operator",
			Message: "at least one operator is required",
			Pos:     v.Pos(),
		}
	}

	def := &Definition{Operators: map[string]*OperatorSpec{}}

	iter, err := opVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		spec, err := parseOperator(name, iter.Value())
		if err != nil {
			return nil, err
		}
		def.Operators[name] = spec
	}

	if len(def.Operators) == 0 {
		return nil, &CompileError{
			Field:   "operator",
			Message: "at least one operator is required",
			Pos:     opVal.Pos(),
		}
	}

	return def, nil
}

func parseOperator(name string, v cue.Value) (*OperatorSpec, error) {
	spec := &OperatorSpec{Name: name}

	var err error
	if spec.FeeRecipient, err = optionalString(v, "fee_recipient"); err != nil {
		return nil, err
	}
	if spec.ProtocolFeeRecipient, err = optionalString(v, "protocol_fee_recipient"); err != nil {
		return nil, err
	}
	if spec.ProtocolFeeBps, err = optionalBps(v, "protocol_fee_bps"); err != nil {
		return nil, err
	}
	if spec.OperatorFeeBps, err = optionalBps(v, "operator_fee_bps"); err != nil {
		return nil, err
	}

	tlVal := v.LookupPath(cue.ParsePath("timelock"))
	if tlVal.Exists() {
		tl, err := parseTimelock(tlVal)
		if err != nil {
			return nil, err
		}
		spec.Timelock = tl
	}

	slots := []struct {
		field string
		dst   *SlotSpec
	}{
		{"authorize", &spec.Authorize},
		{"charge", &spec.Charge},
		{"release", &spec.Release},
		{"refund_in_escrow", &spec.RefundInEscrow},
		{"refund_post_escrow", &spec.RefundPostEscrow},
	}
	for _, slot := range slots {
		slotVal := v.LookupPath(cue.ParsePath(slot.field))
		if !slotVal.Exists() {
			continue
		}
		parsed, err := parseSlot(slot.field, slotVal)
		if err != nil {
			return nil, err
		}
		*slot.dst = parsed
	}

	return spec, nil
}

func parseTimelock(v cue.Value) (*TimelockSpec, error) {
	tl := &TimelockSpec{}

	periodVal := v.LookupPath(cue.ParsePath("period"))
	if !periodVal.Exists() {
		return nil, &CompileError{
			Field:   "timelock.period",
			Message: "period is required",
			Pos:     v.Pos(),
		}
	}
	period, err := periodVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	tl.Period = period

	durationVal := v.LookupPath(cue.ParsePath("freeze_duration"))
	if durationVal.Exists() {
		duration, err := durationVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		tl.FreezeDuration = duration
	}

	if tl.Freeze, err = optionalNode(v, "freeze"); err != nil {
		return nil, err
	}
	if tl.Unfreeze, err = optionalNode(v, "unfreeze"); err != nil {
		return nil, err
	}

	return tl, nil
}

func parseSlot(field string, v cue.Value) (SlotSpec, error) {
	var slot SlotSpec
	var err error

	if slot.Condition, err = optionalNode(v, "condition"); err != nil {
		return slot, err
	}

	recVal := v.LookupPath(cue.ParsePath("recorder"))
	if recVal.Exists() {
		node := &policy.RecorderNode{}
		if err := recVal.Decode(node); err != nil {
			return slot, formatCUEError(err)
		}
		slot.Recorder = node
	}

	return slot, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return "", nil
	}
	s, err := fieldVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBps(v cue.Value, field string) (*uint32, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return nil, nil
	}
	raw, err := fieldVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if raw < 0 {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("fee rate must not be negative, got %d", raw),
			Pos:     fieldVal.Pos(),
		}
	}
	bps := uint32(raw)
	return &bps, nil
}

// optionalNode decodes a condition node tree. The node struct's json tags
// match the CUE field names, so structural decoding suffices; semantic
// checks happen in Validate.
func optionalNode(v cue.Value, field string) (*policy.Node, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return nil, nil
	}
	node := &policy.Node{}
	if err := fieldVal.Decode(node); err != nil {
		return nil, formatCUEError(err)
	}
	return node, nil
}

// EncodeMap returns the operator spec as a canonical-marshalable map for the
// instance registry. Unset fields are omitted so semantically identical
// definitions encode identically regardless of source formatting.
func (s *OperatorSpec) EncodeMap() map[string]any {
	m := map[string]any{}
	if s.FeeRecipient != "" {
		m["fee_recipient"] = s.FeeRecipient
	}
	if s.ProtocolFeeRecipient != "" {
		m["protocol_fee_recipient"] = s.ProtocolFeeRecipient
	}
	if s.ProtocolFeeBps != nil {
		m["protocol_fee_bps"] = *s.ProtocolFeeBps
	}
	if s.OperatorFeeBps != nil {
		m["operator_fee_bps"] = *s.OperatorFeeBps
	}
	if s.Timelock != nil {
		tl := map[string]any{"period": s.Timelock.Period}
		if s.Timelock.FreezeDuration != 0 {
			tl["freeze_duration"] = s.Timelock.FreezeDuration
		}
		if s.Timelock.Freeze != nil {
			tl["freeze"] = s.Timelock.Freeze.EncodeMap()
		}
		if s.Timelock.Unfreeze != nil {
			tl["unfreeze"] = s.Timelock.Unfreeze.EncodeMap()
		}
		m["timelock"] = tl
	}
	slots := []struct {
		field string
		slot  SlotSpec
	}{
		{"authorize", s.Authorize},
		{"charge", s.Charge},
		{"release", s.Release},
		{"refund_in_escrow", s.RefundInEscrow},
		{"refund_post_escrow", s.RefundPostEscrow},
	}
	for _, entry := range slots {
		sm := map[string]any{}
		if entry.slot.Condition != nil {
			sm["condition"] = entry.slot.Condition.EncodeMap()
		}
		if entry.slot.Recorder != nil {
			sm["recorder"] = entry.slot.Recorder.EncodeMap()
		}
		if len(sm) > 0 {
			m[entry.field] = sm
		}
	}
	return m
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
