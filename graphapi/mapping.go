package graphapi

import (
	"encoding/json"
	"fmt"
)

// NodeMapping points a Control at one input field of one node
type NodeMapping struct {
	NodeID string `json:"nodeId"`
	Field  string `json:"field"`
}

// MappingTable assigns Controls to graph locations. A missing key means the Control is unset.
//
// Entries are not checked against a graph when written; Inject and ExtractDefaults skip
// entries whose node no longer exists.
type MappingTable map[Control]NodeMapping

// Get returns the mapping for c and whether it is set
func (m MappingTable) Get(c Control) (NodeMapping, bool) {
	nm, ok := m[c]
	return nm, ok
}

func (m MappingTable) Set(c Control, nodeID string, field string) {
	m[c] = NodeMapping{NodeID: nodeID, Field: field}
}

func (m MappingTable) Unset(c Control) {
	delete(m, c)
}

// Copy returns an independent copy of the table
func (m MappingTable) Copy() MappingTable {
	retv := make(MappingTable, len(m))
	for k, v := range m {
		retv[k] = v
	}
	return retv
}

// Stale returns the controls whose target node is absent from g
func (m MappingTable) Stale(g *Graph) []Control {
	retv := make([]Control, 0)
	for _, c := range AllControls() {
		nm, ok := m[c]
		if !ok {
			continue
		}
		if g.GetNodeById(nm.NodeID) == nil {
			retv = append(retv, c)
		}
	}
	return retv
}

func (m *MappingTable) UnmarshalJSON(b []byte) error {
	var tmp map[string]*NodeMapping
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}

	retv := make(MappingTable, len(tmp))
	for k, v := range tmp {
		c, err := ParseControl(k)
		if err != nil {
			return err
		}
		// null entries mean unset
		if v == nil {
			continue
		}
		if v.NodeID == "" || v.Field == "" {
			return fmt.Errorf("mapping for %s needs both nodeId and field", k)
		}
		retv[c] = *v
	}
	*m = retv
	return nil
}
