package graphapi

// ExtractDefaults reads the current value of every mapped field out of g.
//
// The result is partial: unmapped controls, stale mappings and missing fields are left
// out so a caller can Merge it over existing values. Scalars come back as plain Go
// values; nulls, links and opaque values come back as FieldValue so that feeding the
// result to Inject reproduces them verbatim.
func ExtractDefaults(g *Graph, m MappingTable) ControlValues {
	retv := make(ControlValues)
	for _, c := range AllControls() {
		nm, ok := m[c]
		if !ok {
			continue
		}
		node := g.GetNodeById(nm.NodeID)
		if node == nil {
			continue
		}
		v, ok := node.GetInput(nm.Field)
		if !ok {
			continue
		}

		switch v.Kind() {
		case KindScalar:
			if v.IsNull() {
				retv[c] = v
				continue
			}
			sc, _ := v.Scalar()
			retv[c] = sc
		case KindLink, KindOpaque:
			retv[c] = v.Clone()
		}
	}
	return retv
}
