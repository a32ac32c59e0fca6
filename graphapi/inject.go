package graphapi

// Inject returns a deep copy of g with the mapped Control values written into it.
// g itself is never modified.
//
//   - mappings whose node is missing from g are skipped
//   - an empty or absent model value leaves the workflow's own checkpoint in place
//   - numeric controls are coerced with Coerce; NaN is written as-is
//   - FieldValue nulls, links and opaque values are written back unchanged
//   - everything else is copied verbatim
func Inject(g *Graph, m MappingTable, values ControlValues) *Graph {
	retv := g.Clone()

	for _, c := range AllControls() {
		nm, ok := m[c]
		if !ok {
			continue
		}
		node := retv.GetNodeById(nm.NodeID)
		if node == nil {
			continue
		}

		value, present := values[c]
		if c == ControlModel && isEmptyValue(value, present) {
			continue
		}

		if c.IsNumeric() {
			// nulls, links and opaque values coming back from ExtractDefaults are written untouched
			if fv, ok := value.(FieldValue); ok && (fv.Kind() != KindScalar || fv.IsNull()) {
				node.SetInput(nm.Field, fv.Clone())
				continue
			}
			node.SetInput(nm.Field, Coerce(value))
			continue
		}

		node.SetInput(nm.Field, toFieldValue(value))
	}

	return retv
}

func isEmptyValue(v interface{}, present bool) bool {
	if !present || v == nil {
		return true
	}
	switch s := v.(type) {
	case string:
		return s == ""
	case FieldValue:
		sc, ok := s.Scalar()
		if !ok {
			return false
		}
		return isEmptyValue(sc, true)
	}
	return false
}

func toFieldValue(v interface{}) FieldValue {
	switch fv := v.(type) {
	case FieldValue:
		return fv.Clone()
	case int:
		return Coerce(fv)
	case int32:
		return Coerce(fv)
	case int64:
		return Coerce(fv)
	case uint64:
		return Coerce(fv)
	case float32:
		return Coerce(fv)
	case float64:
		return Coerce(fv)
	}
	return ScalarValue(v)
}
