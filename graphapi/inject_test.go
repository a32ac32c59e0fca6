package graphapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalGraph(t *testing.T, g *Graph) string {
	t.Helper()
	b, err := json.Marshal(g)
	require.NoError(t, err)
	return string(b)
}

func inputJSON(t *testing.T, g *Graph, nodeID string, field string) string {
	t.Helper()
	n := g.GetNodeById(nodeID)
	require.NotNil(t, n)
	v, ok := n.GetInput(field)
	require.True(t, ok, "%s.%s missing", nodeID, field)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestInjectDoesNotMutateSource(t *testing.T) {
	g := loadTestGraph(t)
	before := marshalGraph(t, g)

	values := DefaultControlValues()
	values[ControlModel] = "other.safetensors"
	values[ControlSteps] = "not a number"
	out := Inject(g, AutoMap(g), values)

	assert.Equal(t, before, marshalGraph(t, g))
	assert.NotEqual(t, before, marshalGraph(t, out))
}

func TestInjectWritesMappedValues(t *testing.T) {
	g := loadTestGraph(t)
	values := ControlValues{
		ControlPositivePrompt: "a cat",
		ControlNegativePrompt: "a dog",
		ControlSeed:           int64(42),
		ControlSteps:          "30",
		ControlCFG:            " 6.5 ",
		ControlSamplerName:    "heun",
		ControlScheduler:      "karras",
		ControlWidth:          1216,
		ControlHeight:         832.0,
		ControlBatchSize:      "",
		ControlModel:          "sdxl.safetensors",
	}

	out := Inject(g, AutoMap(g), values)

	assert.Equal(t, `"a cat"`, inputJSON(t, out, "6", "text"))
	assert.Equal(t, `"a dog"`, inputJSON(t, out, "7", "text"))
	assert.Equal(t, `42`, inputJSON(t, out, "3", "seed"))
	assert.Equal(t, `30`, inputJSON(t, out, "3", "steps"))
	assert.Equal(t, `6.5`, inputJSON(t, out, "3", "cfg"))
	assert.Equal(t, `"heun"`, inputJSON(t, out, "3", "sampler_name"))
	assert.Equal(t, `"karras"`, inputJSON(t, out, "3", "scheduler"))
	assert.Equal(t, `1216`, inputJSON(t, out, "5", "width"))
	assert.Equal(t, `832`, inputJSON(t, out, "5", "height"))
	assert.Equal(t, `0`, inputJSON(t, out, "5", "batch_size"))
	assert.Equal(t, `"sdxl.safetensors"`, inputJSON(t, out, "4", "ckpt_name"))

	// links are untouched
	assert.Equal(t, `["6",0]`, inputJSON(t, out, "3", "positive"))
}

func TestInjectGarbageNumberBecomesNull(t *testing.T) {
	g := loadTestGraph(t)
	values := DefaultControlValues()
	values[ControlSteps] = "lots"

	out := Inject(g, AutoMap(g), values)
	assert.Equal(t, `null`, inputJSON(t, out, "3", "steps"))

	assert.Error(t, values.Validate())
	values[ControlSteps] = "12"
	assert.NoError(t, values.Validate())
}

func TestInjectSkipsMissingNode(t *testing.T) {
	g := loadTestGraph(t)
	before := marshalGraph(t, g)

	m := MappingTable{ControlSeed: {NodeID: "99", Field: "seed"}}
	out := Inject(g, m, ControlValues{ControlSeed: int64(7)})

	assert.Equal(t, before, marshalGraph(t, out))
	assert.Nil(t, out.GetNodeById("99"))
}

func TestInjectModelInheritsWorkflowValue(t *testing.T) {
	tests := []struct {
		name   string
		values ControlValues
	}{
		{"empty string", ControlValues{ControlModel: ""}},
		{"absent", ControlValues{}},
		{"nil", ControlValues{ControlModel: nil}},
	}

	for _, tt := range tests {
		test := tt
		t.Run(test.name, func(t *testing.T) {
			g := loadTestGraph(t)
			out := Inject(g, AutoMap(g), test.values)
			assert.Equal(t, `"v1-5-pruned-emaonly.safetensors"`, inputJSON(t, out, "4", "ckpt_name"))
		})
	}
}

func TestInjectLeavesUnmappedControlsAlone(t *testing.T) {
	g := loadTestGraph(t)
	m := MappingTable{ControlSeed: {NodeID: "3", Field: "seed"}}

	out := Inject(g, m, DefaultControlValues())

	assert.Equal(t, `-1`, inputJSON(t, out, "3", "seed"))
	assert.Equal(t, `20`, inputJSON(t, out, "3", "steps"))
	assert.Equal(t, `"text, watermark"`, inputJSON(t, out, "7", "text"))
}

func TestExtractDefaultsInjectRoundTrip(t *testing.T) {
	g := loadTestGraph(t)
	m := AutoMap(g)

	defaults := ExtractDefaults(g, m)
	assert.Len(t, defaults, len(m))
	assert.Equal(t, "euler", defaults[ControlSamplerName])
	assert.Equal(t, json.Number("8.0"), defaults[ControlCFG])

	out := Inject(g, m, defaults)
	for c, nm := range m {
		assert.Equal(t, inputJSON(t, g, nm.NodeID, nm.Field), inputJSON(t, out, nm.NodeID, nm.Field), c)
	}
}

func TestExtractDefaultsRoundTripsLinks(t *testing.T) {
	g, err := NewGraphFromJsonString(`{
		"3": {"inputs": {"seed": ["12", 0], "steps": 20, "cfg": {"min": 1}, "sampler_name": "euler", "scheduler": null}, "class_type": "KSampler"}
	}`)
	require.NoError(t, err)
	m := AutoMap(g)

	defaults := ExtractDefaults(g, m)
	scheduler, hasScheduler := defaults[ControlScheduler]
	require.True(t, hasScheduler)
	assert.True(t, scheduler.(FieldValue).IsNull())

	out := Inject(g, m, defaults)
	assert.Equal(t, `["12",0]`, inputJSON(t, out, "3", "seed"))
	assert.Equal(t, `{"min":1}`, inputJSON(t, out, "3", "cfg"))
	assert.Equal(t, `null`, inputJSON(t, out, "3", "scheduler"))
}

func TestExtractDefaultsKeepsNullOverBuiltins(t *testing.T) {
	g, err := NewGraphFromJsonString(`{
		"3": {"inputs": {"seed": 7, "steps": null, "cfg": 8, "sampler_name": "euler", "scheduler": null}, "class_type": "KSampler"}
	}`)
	require.NoError(t, err)
	m := AutoMap(g)

	values := DefaultControlValues()
	values.Merge(ExtractDefaults(g, m))
	require.NoError(t, values.Validate())

	out := Inject(g, m, values)
	assert.Equal(t, `null`, inputJSON(t, out, "3", "scheduler"))
	assert.Equal(t, `null`, inputJSON(t, out, "3", "steps"))
	assert.Equal(t, `7`, inputJSON(t, out, "3", "seed"))
}

func TestExtractDefaultsPartialMerge(t *testing.T) {
	g, err := NewGraphFromJsonString(`{"5": {"inputs": {"width": 768, "height": 1024}, "class_type": "EmptyLatentImage"}}`)
	require.NoError(t, err)

	m := AutoMap(g)
	m.Set(ControlSteps, "404", "steps")

	values := DefaultControlValues()
	values.Merge(ExtractDefaults(g, m))

	assert.Equal(t, json.Number("768"), values[ControlWidth])
	assert.Equal(t, json.Number("1024"), values[ControlHeight])
	assert.Equal(t, int64(25), values[ControlSteps])
	assert.Equal(t, "euler", values[ControlSamplerName])
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in       interface{}
		expected string
	}{
		{"12", "12"},
		{" 3.25 ", "3.25"},
		{"", "0"},
		{"   ", "0"},
		{true, "1"},
		{false, "0"},
		{int64(-1), "-1"},
		{7.0, "7"},
		{json.Number("8.0"), "8.0"},
		{"1e3", "1000"},
		{"abc", "null"},
		{nil, "null"},
		{ScalarValue("5"), "5"},
	}

	for _, test := range tests {
		b, err := json.Marshal(Coerce(test.in))
		require.NoError(t, err)
		assert.Equal(t, test.expected, string(b), "%#v", test.in)
	}
}
