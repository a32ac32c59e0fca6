package graphapi

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Inputs maps an input field name to its value, in document order
type Inputs = orderedmap.OrderedMap[string, FieldValue]

// NodeMeta is the optional "_meta" block ComfyUI writes when saving in API format
type NodeMeta struct {
	Title string `json:"title,omitempty"`
}

// Node is one entry of an API-format workflow
type Node struct {
	ID        string    `json:"-"`
	ClassType string    `json:"class_type"`
	Inputs    *Inputs   `json:"inputs"`
	Meta      *NodeMeta `json:"_meta,omitempty"`
}

func NewNode(id string, classType string) *Node {
	return &Node{
		ID:        id,
		ClassType: classType,
		Inputs:    orderedmap.New[string, FieldValue](),
	}
}

// Title returns the display title, falling back to the class type
func (n *Node) Title() string {
	if n.Meta != nil && n.Meta.Title != "" {
		return n.Meta.Title
	}
	return n.ClassType
}

// GetInput returns the named input and whether it exists
func (n *Node) GetInput(name string) (FieldValue, bool) {
	if n.Inputs == nil {
		return FieldValue{}, false
	}
	return n.Inputs.Get(name)
}

// SetInput writes (or adds) the named input
func (n *Node) SetInput(name string, v FieldValue) {
	if n.Inputs == nil {
		n.Inputs = orderedmap.New[string, FieldValue]()
	}
	n.Inputs.Set(name, v)
}

// InputNames returns the input field names in document order
func (n *Node) InputNames() []string {
	retv := make([]string, 0)
	if n.Inputs == nil {
		return retv
	}
	for pair := n.Inputs.Oldest(); pair != nil; pair = pair.Next() {
		retv = append(retv, pair.Key)
	}
	return retv
}

// Clone returns a deep copy of the node
func (n *Node) Clone() *Node {
	retv := NewNode(n.ID, n.ClassType)
	if n.Meta != nil {
		m := *n.Meta
		retv.Meta = &m
	}
	if n.Inputs != nil {
		for pair := n.Inputs.Oldest(); pair != nil; pair = pair.Next() {
			retv.Inputs.Set(pair.Key, pair.Value.Clone())
		}
	}
	return retv
}

func (n *Node) UnmarshalJSON(b []byte) error {
	// Create an alias type to avoid recursive call to UnmarshalJSON
	type Alias Node

	alias := &Alias{}
	if err := json.Unmarshal(b, alias); err != nil {
		return err
	}

	n.ClassType = alias.ClassType
	n.Meta = alias.Meta
	n.Inputs = alias.Inputs
	if n.Inputs == nil {
		n.Inputs = orderedmap.New[string, FieldValue]()
	}
	return nil
}
