package expressions

import (
	"testing"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext_SeedsStaticRoots(t *testing.T) {
	doc := &schema.Document{
		SourceDescriptions: []schema.SourceDescription{{Name: "api", URL: "https://api.example", Type: schema.SourceTypeOpenAPI}},
		Components: &schema.Components{
			Parameters: map[string]schema.Parameter{"storeId": {Name: "storeId", In: schema.InHeader, Value: "s-1"}},
		},
	}
	ec := NewContext(map[string]any{"a": 1}, doc)

	ref, err := ParseReference("$components.parameters.storeId.value")
	require.NoError(t, err)
	got, err := ref.Resolve(ec)
	require.NoError(t, err)
	assert.Equal(t, "s-1", got)

	src, _ := ec.Root(RootSourceDescriptions)
	assert.Contains(t, src, "api")
}

func TestContext_InputsAreFrozen(t *testing.T) {
	inputs := map[string]any{"nested": map[string]any{"v": 1}}
	ec := NewContext(inputs, nil)

	inputs["nested"].(map[string]any)["v"] = 2
	got := ec.Inputs()
	assert.Equal(t, 1, got["nested"].(map[string]any)["v"])

	got["nested"].(map[string]any)["v"] = 3
	assert.Equal(t, 1, ec.Inputs()["nested"].(map[string]any)["v"])
}

func TestContext_SetStepOutputsOverwrites(t *testing.T) {
	ec := NewContext(nil, nil)
	ec.SetStepOutputs("s", map[string]any{"a": 1, "b": 2})
	ec.SetStepOutputs("s", map[string]any{"a": 10})

	out, ok := ec.StepOutputs("s")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 10}, out)

	_, ok = ec.StepOutputs("missing")
	assert.False(t, ok)
}

func TestContext_ExchangeViewSharesSteps(t *testing.T) {
	ec := NewContext(nil, nil)
	view := ec.WithExchange(Exchange{URL: "https://x", Method: "POST", StatusCode: 201})

	view.SetStepOutputs("create", map[string]any{"id": "1"})
	out, ok := ec.StepOutputs("create")
	require.True(t, ok)
	assert.Equal(t, "1", out["id"])

	code, _ := ec.Root(RootStatusCode)
	assert.Nil(t, code, "the run context does not see per-step response data")
	code, _ = view.Root(RootStatusCode)
	assert.Equal(t, 201, code)
}

func TestContext_Steps(t *testing.T) {
	ec := NewContext(nil, nil)
	ec.SetStepOutputs("a", map[string]any{"x": 1})
	ec.SetStepOutputs("b", nil)

	steps := ec.Steps()
	assert.Len(t, steps, 2)
	assert.Equal(t, 1, steps["a"]["x"])
	assert.Empty(t, steps["b"])
}

func TestContext_Tree(t *testing.T) {
	ec := newTestContext()
	tree := ec.Tree()

	assert.Contains(t, tree, "steps")
	assert.Contains(t, tree, "inputs")
	assert.Contains(t, tree, "response")
	assert.NotContains(t, tree, "outputs")
}

func TestIsRoot(t *testing.T) {
	assert.True(t, IsRoot("steps"))
	assert.True(t, IsRoot("sourceDescriptions"))
	assert.False(t, IsRoot("env"))
}
