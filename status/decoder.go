// Package status decodes a SolarRiver status payload against a
// device-reported status format. A format is an opaque byte string whose
// byte at position i is a type-id; a type-id's value lives in bytes
// [2i, 2i+2) of the matching status payload. Decoders are expressed as a
// tagged variant (bytesDecoder, intDecoder, decimalDecoder,
// operationModeDecoder, oneOfDecoder, gatedDecoder) evaluated by a single
// function, rather than as a class hierarchy with virtual dispatch.
package status

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies which field of Value is populated.
type Kind int

// Value kinds produced by decoding.
const (
	KindInt Kind = iota
	KindDecimal
	KindString
)

// Value is the decoded value for one status field.
type Value struct {
	Kind    Kind
	Int     int64
	Decimal decimal.Decimal
	String  string
}

func intValue(v int64) Value               { return Value{Kind: KindInt, Int: v} }
func decimalValue(v decimal.Decimal) Value { return Value{Kind: KindDecimal, Decimal: v} }
func stringValue(v string) Value           { return Value{Kind: KindString, String: v} }

// Text renders the value the way a renderer would print it.
func (v Value) Text() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindDecimal:
		return v.Decimal.String()
	case KindString:
		return v.String
	default:
		return ""
	}
}

// ErrUnknownOperationMode is returned when the operation-mode field decodes
// to an integer outside the documented 0..5 range.
type ErrUnknownOperationMode struct {
	Value int64
}

func (e *ErrUnknownOperationMode) Error() string {
	return fmt.Sprintf("status: unknown operation mode %d", e.Value)
}

// Decoder locates and interprets one field's bytes within a (format,
// payload) pair. decode returns ok=false when the field's type-id(s) are
// absent from format — "not present in this device's format" — never an
// error in that case.
type Decoder interface {
	decode(format, payload []byte) (val Value, ok bool, err error)
}

// resolve finds, for each type-id, its first index in format. It returns
// ok=false if any type-id is absent.
func resolve(format []byte, typeIDs []byte) (indices []int, ok bool) {
	indices = make([]int, len(typeIDs))
	for i, id := range typeIDs {
		idx := bytes.IndexByte(format, id)
		if idx == -1 {
			return nil, false
		}
		indices[i] = idx
	}
	return indices, true
}

// slotBytes concatenates, in order, the 2-byte payload slots addressed by
// indices. ok is false if any slot falls even partly outside payload — a
// payload/format size mismatch is reported as the field being absent, never
// as a fabricated or truncated value.
func slotBytes(payload []byte, indices []int) (out []byte, ok bool) {
	out = make([]byte, 0, 2*len(indices))
	for _, idx := range indices {
		lo, hi := 2*idx, 2*idx+2
		if hi > len(payload) {
			return nil, false
		}
		out = append(out, payload[lo:hi]...)
	}
	return out, true
}

// bytesDecoder returns the concatenated raw slot bytes for its type-ids.
type bytesDecoder struct {
	typeIDs []byte
}

func (d bytesDecoder) decode(format, payload []byte) (Value, bool, error) {
	indices, ok := resolve(format, d.typeIDs)
	if !ok {
		return Value{}, false, nil
	}
	raw, ok := slotBytes(payload, indices)
	if !ok {
		return Value{}, false, nil
	}
	return Value{Kind: KindString, String: string(raw)}, true, nil
}

// Bytes returns a Decoder yielding the concatenated 2-byte slots for the
// given type-ids as a raw byte string, wrapped in a KindString Value.
func Bytes(typeIDs ...byte) Decoder {
	return bytesDecoder{typeIDs: typeIDs}
}

// intDecoder interprets the slot bytes as a big-endian integer.
type intDecoder struct {
	typeIDs []byte
	signed  bool
}

func (d intDecoder) decode(format, payload []byte) (Value, bool, error) {
	indices, ok := resolve(format, d.typeIDs)
	if !ok {
		return Value{}, false, nil
	}
	raw, ok := slotBytes(payload, indices)
	if !ok {
		return Value{}, false, nil
	}
	return intValue(decodeInt(raw, d.signed)), true, nil
}

func decodeInt(raw []byte, signed bool) int64 {
	var u uint64
	for _, b := range raw {
		u = u<<8 | uint64(b)
	}
	if !signed || len(raw) == 0 {
		return int64(u)
	}
	bits := uint(8 * len(raw))
	signBit := uint64(1) << (bits - 1)
	if u&signBit != 0 {
		return int64(u) - int64(signBit<<1)
	}
	return int64(u)
}

// Int returns a Decoder yielding a big-endian integer over the 2-byte slots
// of typeIDs, concatenated in the given order.
func Int(signed bool, typeIDs ...byte) Decoder {
	return intDecoder{typeIDs: typeIDs, signed: signed}
}

// decimalDecoder scales an intDecoder's result by 10^scale.
type decimalDecoder struct {
	inner intDecoder
	scale int32
}

func (d decimalDecoder) decode(format, payload []byte) (Value, bool, error) {
	v, ok, err := d.inner.decode(format, payload)
	if !ok || err != nil {
		return Value{}, ok, err
	}
	return decimalValue(decimal.New(v.Int, d.scale)), true, nil
}

// Decimal returns a Decoder yielding value*10^scale as an exact decimal,
// using the same signed/slot semantics as Int.
func Decimal(signed bool, scale int32, typeIDs ...byte) Decoder {
	return decimalDecoder{inner: intDecoder{typeIDs: typeIDs, signed: signed}, scale: scale}
}

// operationModeTypeID is the single type-id carrying the operation mode.
const operationModeTypeID = 0x0c

var operationModeNames = map[int64]string{
	0: "Wait",
	1: "Normal",
	2: "Fault",
	3: "Permanent fault",
	4: "Check",
	5: "PV power off",
}

// operationModeDecoder maps the raw integer onto its documented name.
type operationModeDecoder struct{}

func (operationModeDecoder) decode(format, payload []byte) (Value, bool, error) {
	v, ok, err := (intDecoder{typeIDs: []byte{operationModeTypeID}}).decode(format, payload)
	if !ok || err != nil {
		return Value{}, ok, err
	}
	name, known := operationModeNames[v.Int]
	if !known {
		return Value{}, false, &ErrUnknownOperationMode{Value: v.Int}
	}
	return stringValue(name), true, nil
}

// OperationMode returns a Decoder yielding the operation mode name, or
// ErrUnknownOperationMode if the device reports a value outside 0..5.
func OperationMode() Decoder {
	return operationModeDecoder{}
}

// oneOfDecoder evaluates its constituents in order and returns the first
// non-absent result.
type oneOfDecoder struct {
	decoders []Decoder
}

func (d oneOfDecoder) decode(format, payload []byte) (Value, bool, error) {
	for _, inner := range d.decoders {
		v, ok, err := inner.decode(format, payload)
		if err != nil {
			return Value{}, false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return Value{}, false, nil
}

// OneOf returns a Decoder that evaluates each alternative in order and
// returns the first one that is present, for mutually exclusive type-ids
// reporting the same logical field.
func OneOf(decoders ...Decoder) Decoder {
	return oneOfDecoder{decoders: decoders}
}

// gatedDecoder delegates to inner only when the presence of gateID in
// format matches wantPresent.
type gatedDecoder struct {
	gateID      byte
	wantPresent bool
	inner       Decoder
}

func (d gatedDecoder) decode(format, payload []byte) (Value, bool, error) {
	present := bytes.IndexByte(format, d.gateID) != -1
	if present != d.wantPresent {
		return Value{}, false, nil
	}
	return d.inner.decode(format, payload)
}

// Gated returns a Decoder that only delegates to inner when the presence of
// gateID in format equals wantPresent; used to disambiguate fields whose
// meaning depends on whether the device reports a three-phase grid.
func Gated(gateID byte, wantPresent bool, inner Decoder) Decoder {
	return gatedDecoder{gateID: gateID, wantPresent: wantPresent, inner: inner}
}
