package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// FieldKind discriminates the shapes a node input can take in an API-format workflow
type FieldKind int

const (
	// KindScalar is a string, number, bool or null
	KindScalar FieldKind = iota
	// KindLink is a reference to another node's output: ["sourceId", slot]
	KindLink
	// KindOpaque is any other JSON shape. It is carried through untouched and never traced.
	KindOpaque
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindLink:
		return "link"
	case KindOpaque:
		return "opaque"
	}
	return "unknown"
}

// Link is the (source node id, output slot) pair the API format encodes as a two element array.
// SourceID is always the decimal string form, even when the document used a number.
type Link struct {
	SourceID string
	Slot     int
}

// FieldValue is a single node input value.
//
// Scalar values hold one of:
//
//	nil
//	string
//	bool
//	json.Number
//	float64 (only NaN, produced by Coerce on garbage input)
type FieldValue struct {
	kind   FieldKind
	scalar interface{}
	link   Link
	// raw holds opaque values, and links as they appeared in the document
	raw json.RawMessage
}

func ScalarValue(v interface{}) FieldValue {
	return FieldValue{kind: KindScalar, scalar: v}
}

func LinkValue(sourceID string, slot int) FieldValue {
	return FieldValue{kind: KindLink, link: Link{SourceID: sourceID, Slot: slot}}
}

func OpaqueValue(raw json.RawMessage) FieldValue {
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return FieldValue{kind: KindOpaque, raw: cp}
}

func (v FieldValue) Kind() FieldKind {
	return v.kind
}

// Scalar returns the scalar payload, ok is false for links and opaque values
func (v FieldValue) Scalar() (interface{}, bool) {
	if v.kind != KindScalar {
		return nil, false
	}
	return v.scalar, true
}

// Link returns the link payload, ok is false for anything that is not a link
func (v FieldValue) Link() (Link, bool) {
	if v.kind != KindLink {
		return Link{}, false
	}
	return v.link, true
}

// IsNull reports whether the value is a JSON null scalar
func (v FieldValue) IsNull() bool {
	return v.kind == KindScalar && v.scalar == nil
}

// Clone returns a copy that shares no memory with v
func (v FieldValue) Clone() FieldValue {
	switch v.kind {
	case KindOpaque:
		return OpaqueValue(v.raw)
	case KindLink:
		if v.raw != nil {
			v.raw = append(json.RawMessage(nil), v.raw...)
		}
	}
	return v
}

func (v FieldValue) String() string {
	switch v.kind {
	case KindScalar:
		if v.scalar == nil {
			return "null"
		}
		return fmt.Sprint(v.scalar)
	case KindLink:
		return fmt.Sprintf("[%q, %d]", v.link.SourceID, v.link.Slot)
	case KindOpaque:
		return string(v.raw)
	}
	return ""
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindLink:
		if len(v.raw) > 0 {
			return v.raw, nil
		}
		return json.Marshal([]interface{}{v.link.SourceID, v.link.Slot})
	case KindOpaque:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}

	switch s := v.scalar.(type) {
	case float64:
		// NaN has no JSON encoding; the browser's JSON.stringify wrote null for it
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(s)
	default:
		return json.Marshal(s)
	}
}

func (v *FieldValue) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return errors.New("empty field value")
	}

	switch trimmed[0] {
	case '[':
		if l, ok := parseLink(trimmed); ok {
			*v = FieldValue{kind: KindLink, link: l, raw: append(json.RawMessage(nil), trimmed...)}
			return nil
		}
		*v = OpaqueValue(trimmed)
		return nil
	case '{':
		*v = OpaqueValue(trimmed)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var s interface{}
	if err := dec.Decode(&s); err != nil {
		return err
	}
	*v = ScalarValue(s)
	return nil
}

// parseLink recognises ["id", slot] and [id, slot] where slot is a non-negative integer
func parseLink(b []byte) (Link, bool) {
	var tmp []json.RawMessage
	if err := json.Unmarshal(b, &tmp); err != nil || len(tmp) != 2 {
		return Link{}, false
	}

	var slot int
	if err := json.Unmarshal(tmp[1], &slot); err != nil || slot < 0 {
		return Link{}, false
	}

	var sid string
	if err := json.Unmarshal(tmp[0], &sid); err == nil {
		return Link{SourceID: sid, Slot: slot}, true
	}

	var nid json.Number
	dec := json.NewDecoder(bytes.NewReader(tmp[0]))
	dec.UseNumber()
	if err := dec.Decode(&nid); err != nil {
		return Link{}, false
	}
	if _, err := strconv.ParseInt(nid.String(), 10, 64); err != nil {
		return Link{}, false
	}
	return Link{SourceID: nid.String(), Slot: slot}, true
}
