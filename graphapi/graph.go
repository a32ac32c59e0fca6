package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrInvalidWorkflow is returned when an uploaded document is not an API-format workflow
var ErrInvalidWorkflow = errors.New("invalid ComfyUI API workflow; use 'Save (API Format)' in ComfyUI")

// Graph is an API-format workflow: node id -> node, kept in document order.
//
// A loaded Graph is treated as immutable. Inject always works on a Clone, so the
// graph a user uploaded stays the template for every submission.
type Graph struct {
	nodes *orderedmap.OrderedMap[string, *Node]
}

func NewGraph() *Graph {
	return &Graph{nodes: orderedmap.New[string, *Node]()}
}

// NewGraphFromJsonReader creates a new graph from the data read from an io.Reader
func NewGraphFromJsonReader(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewGraphFromJsonBytes(data)
}

// NewGraphFromJsonFile creates a new graph from a JSON file
func NewGraphFromJsonFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewGraphFromJsonBytes(data)
}

// NewGraphFromJsonString creates a new graph from a JSON string
func NewGraphFromJsonString(data string) (*Graph, error) {
	return NewGraphFromJsonBytes([]byte(data))
}

func NewGraphFromJsonBytes(data []byte) (*Graph, error) {
	g := NewGraph()
	if err := json.Unmarshal(data, g); err != nil {
		if errors.Is(err, ErrInvalidWorkflow) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	return g, nil
}

// AddNode appends a node, replacing any node with the same id in place
func (g *Graph) AddNode(n *Node) {
	if g.nodes == nil {
		g.nodes = orderedmap.New[string, *Node]()
	}
	g.nodes.Set(n.ID, n)
}

// GetNodeById returns the node with the given id, or nil
func (g *Graph) GetNodeById(id string) *Node {
	if g == nil || g.nodes == nil {
		return nil
	}
	n, ok := g.nodes.Get(id)
	if !ok {
		return nil
	}
	return n
}

// Nodes returns the nodes in document order
func (g *Graph) Nodes() []*Node {
	retv := make([]*Node, 0, g.Len())
	if g == nil || g.nodes == nil {
		return retv
	}
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		retv = append(retv, pair.Value)
	}
	return retv
}

func (g *Graph) Len() int {
	if g == nil || g.nodes == nil {
		return 0
	}
	return g.nodes.Len()
}

// FindFirstNode returns the first node, in document order, for which match returns true.
// Every heuristic lookup goes through here so the first-match ordering rule lives in one place.
func (g *Graph) FindFirstNode(match func(*Node) bool) *Node {
	if g == nil || g.nodes == nil {
		return nil
	}
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if match(pair.Value) {
			return pair.Value
		}
	}
	return nil
}

// Clone returns a deep copy of the graph
func (g *Graph) Clone() *Graph {
	retv := NewGraph()
	for _, n := range g.Nodes() {
		retv.nodes.Set(n.ID, n.Clone())
	}
	return retv
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	if g.nodes == nil {
		return []byte("{}"), nil
	}
	return g.nodes.MarshalJSON()
}

func (g *Graph) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: top level must be an object of nodes", ErrInvalidWorkflow)
	}

	// decode raw first so each node can be validated with its id in the error
	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(trimmed, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	if raw.Len() == 0 {
		return fmt.Errorf("%w: workflow has no nodes", ErrInvalidWorkflow)
	}

	nodes := orderedmap.New[string, *Node]()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		body := bytes.TrimSpace(pair.Value)
		if len(body) == 0 || body[0] != '{' {
			return fmt.Errorf("%w: node %s is not an object", ErrInvalidWorkflow, pair.Key)
		}
		n := &Node{}
		if err := json.Unmarshal(body, n); err != nil {
			return fmt.Errorf("%w: node %s: %v", ErrInvalidWorkflow, pair.Key, err)
		}
		if strings.TrimSpace(n.ClassType) == "" {
			return fmt.Errorf("%w: node %s has no class_type", ErrInvalidWorkflow, pair.Key)
		}
		n.ID = pair.Key
		nodes.Set(pair.Key, n)
	}

	g.nodes = nodes
	return nil
}
