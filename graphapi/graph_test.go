package graphapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphFromJsonFile("testdata/txt2img_api.json")
	require.NoError(t, err)
	return g
}

func TestLoadPreservesDocumentOrder(t *testing.T) {
	g := loadTestGraph(t)

	ids := make([]string, 0)
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"3", "4", "5", "6", "7", "8", "9"}, ids)

	sampler := g.GetNodeById("3")
	require.NotNil(t, sampler)
	assert.Equal(t, "KSampler", sampler.ClassType)
	assert.Equal(t, []string{"seed", "steps", "cfg", "sampler_name", "scheduler", "denoise", "model", "positive", "negative", "latent_image"}, sampler.InputNames())
	assert.Equal(t, "Load Checkpoint", g.GetNodeById("4").Title())
}

func TestFieldValueKinds(t *testing.T) {
	g := loadTestGraph(t)
	sampler := g.GetNodeById("3")

	positive, ok := sampler.GetInput("positive")
	require.True(t, ok)
	assert.Equal(t, KindLink, positive.Kind())
	l, ok := positive.Link()
	require.True(t, ok)
	assert.Equal(t, Link{SourceID: "6", Slot: 0}, l)

	seed, ok := sampler.GetInput("seed")
	require.True(t, ok)
	sc, ok := seed.Scalar()
	require.True(t, ok)
	assert.Equal(t, json.Number("156680208700286"), sc)
}

func TestFieldValueUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind FieldKind
	}{
		{"string", `"hello"`, KindScalar},
		{"number", `12.5`, KindScalar},
		{"bool", `true`, KindScalar},
		{"null", `null`, KindScalar},
		{"link", `["4", 1]`, KindLink},
		{"numeric link id", `[4, 1]`, KindLink},
		{"three element array", `["4", 1, 2]`, KindOpaque},
		{"negative slot", `["4", -1]`, KindOpaque},
		{"string list", `["a", "b"]`, KindOpaque},
		{"object", `{"a": 1}`, KindOpaque},
	}

	for _, tt := range tests {
		test := tt
		t.Run(test.name, func(t *testing.T) {
			var v FieldValue
			require.NoError(t, json.Unmarshal([]byte(test.in), &v))
			assert.Equal(t, test.kind, v.Kind())

			out, err := json.Marshal(v)
			require.NoError(t, err)
			assert.JSONEq(t, test.in, string(out))
		})
	}
}

func TestNumericLinkSourceKeepsItsToken(t *testing.T) {
	g, err := NewGraphFromJsonString(`{
		"3": {"inputs": {"seed": 1, "positive": [6, 0], "negative": ["7", 0]}, "class_type": "KSampler"},
		"6": {"inputs": {"text": "a cat"}, "class_type": "CLIPTextEncode"},
		"7": {"inputs": {"text": "blur"}, "class_type": "CLIPTextEncode"}
	}`)
	require.NoError(t, err)

	positive, _ := g.GetNodeById("3").GetInput("positive")
	l, ok := positive.Link()
	require.True(t, ok)
	assert.Equal(t, "6", l.SourceID)

	m := AutoMap(g)
	assert.Equal(t, NodeMapping{NodeID: "6", Field: "text"}, m[ControlPositivePrompt])

	prompts := MappingTable{ControlPositivePrompt: m[ControlPositivePrompt]}
	out := Inject(g, prompts, ControlValues{ControlPositivePrompt: "a dog"})
	b, err := json.Marshal(out.GetNodeById("3").Inputs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seed": 1, "positive": [6, 0], "negative": ["7", 0]}`, string(b))
}

func TestNaNMarshalsAsNull(t *testing.T) {
	out, err := json.Marshal(Coerce("not a number"))
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestInvalidWorkflowRejected(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{"3": `},
		{"array", `[1, 2, 3]`},
		{"empty object", `{}`},
		{"editor format", `{"last_node_id": 9, "nodes": []}`},
		{"missing class_type", `{"3": {"inputs": {}}}`},
		{"node not an object", `{"3": "KSampler"}`},
		{"later node missing class_type", `{"3": {"inputs": {}, "class_type": "KSampler"}, "4": {"inputs": {}}}`},
	}

	for _, tt := range tests {
		test := tt
		t.Run(test.name, func(t *testing.T) {
			g, err := NewGraphFromJsonString(test.in)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	g := loadTestGraph(t)

	out, err := json.Marshal(g)
	require.NoError(t, err)

	again, err := NewGraphFromJsonBytes(out)
	require.NoError(t, err)

	out2, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(out2))
	assert.True(t, strings.Index(string(out), `"3"`) < strings.Index(string(out), `"9"`))
}

func TestCloneIsIndependent(t *testing.T) {
	g := loadTestGraph(t)
	c := g.Clone()

	c.GetNodeById("6").SetInput("text", ScalarValue("changed"))
	c.GetNodeById("6").Meta.Title = "changed"

	text, _ := g.GetNodeById("6").GetInput("text")
	sc, _ := text.Scalar()
	assert.Equal(t, "beautiful scenery nature glass bottle landscape, purple galaxy bottle,", sc)
	assert.Equal(t, "CLIP Text Encode (Positive)", g.GetNodeById("6").Title())
}

func TestFindFirstNodeUsesDocumentOrder(t *testing.T) {
	g, err := NewGraphFromJsonString(`{
		"20": {"inputs": {}, "class_type": "EmptyLatentImage"},
		"10": {"inputs": {}, "class_type": "EmptyLatentImage"}
	}`)
	require.NoError(t, err)

	n := g.FindFirstNode(isEmptyLatent)
	require.NotNil(t, n)
	assert.Equal(t, "20", n.ID)
	assert.Nil(t, g.FindFirstNode(isSampler))
}
