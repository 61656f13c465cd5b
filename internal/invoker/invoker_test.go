package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seanchatmangpt/wrkflo/internal/expressions"
	"github.com/seanchatmangpt/wrkflo/internal/transport"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method  string
	path    string
	query   map[string][]string
	headers http.Header
	body    map[string]any
}

func newPetServer(t *testing.T, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.Query()
		got.headers = r.Header.Clone()
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &got.body))
		}
		if r.URL.Path == "/pet/missing" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Expires-After", "2030-01-01")
		io.WriteString(w, `{"id":"123","name":"Fluffy","tags":[{"name":"cute"}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestInvoker(srv *httptest.Server, components *schema.Components) *Invoker {
	doc := &schema.Document{
		SourceDescriptions: []schema.SourceDescription{{
			Name: "api",
			URL:  srv.URL + "/openapi.json",
			Operations: []schema.Operation{
				{OperationID: "getPet", URL: srv.URL + "/pet/{petId}", Method: "GET", RetryDelayMs: 1},
				{OperationID: "createOrder", URL: srv.URL + "/orders", Method: "POST", RetryDelayMs: 1},
			},
		}},
	}
	return NewInvoker(Config{
		Catalog:    NewCatalog(doc, nil),
		Client:     transport.NewHTTPClient(transport.Config{}),
		Components: components,
	})
}

func TestInvoke_PathParamsAndOutputs(t *testing.T) {
	var got captured
	inv := newTestInvoker(newPetServer(t, &got), nil)
	ec := expressions.NewContext(map[string]any{"petId": 123}, nil)

	step := &schema.Step{
		StepID:      "get-pet",
		OperationID: "getPet",
		Parameters:  []schema.Parameter{{Name: "petId", In: schema.InPath, Value: "$inputs.petId"}},
		Outputs: map[string]any{
			"petName":  "$response.body.name",
			"firstTag": "$response.body#/tags/0/name",
			"expires":  "$response.header.x-expires-after",
			"status":   "$statusCode",
		},
	}

	res, err := inv.Invoke(context.Background(), step, ec)
	require.NoError(t, err)

	assert.Equal(t, "/pet/123", got.path)
	assert.Equal(t, "GET", got.method)
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, "application/json", got.headers.Get("Accept"))

	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, map[string]any{
		"petName":  "Fluffy",
		"firstTag": "cute",
		"expires":  "2030-01-01",
		"status":   200,
	}, res.Outputs)

	_, recorded := ec.StepOutputs("get-pet")
	assert.False(t, recorded, "outputs are persisted by the engine once criteria pass")

	code, _ := res.Context.Root(expressions.RootStatusCode)
	assert.Equal(t, 200, code)
}

func TestInvoke_QueryHeaderCookieAndBody(t *testing.T) {
	var got captured
	inv := newTestInvoker(newPetServer(t, &got), nil)
	ec := expressions.NewContext(map[string]any{"user": "alice", "qty": 2.0, "token": "t0k"}, nil)

	step := &schema.Step{
		StepID:      "order",
		OperationID: "createOrder",
		Parameters: []schema.Parameter{
			{Name: "dryRun", In: schema.InQuery, Value: true},
			{Name: "Authorization", In: schema.InHeader, Value: "Bearer {$inputs.token}"},
			{Name: "session", In: schema.InCookie, Value: "s1"},
			{Name: "lang", In: schema.InCookie, Value: "en"},
			{Name: "channel", In: schema.InBody, Value: "web"},
		},
		RequestBody: &schema.RequestBody{
			Payload: map[string]any{
				"user":     "$inputs.user",
				"quantity": "$inputs.qty",
				"items":    []any{map[string]any{"sku": "A-1"}},
			},
		},
	}

	_, err := inv.Invoke(context.Background(), step, ec)
	require.NoError(t, err)

	assert.Equal(t, "POST", got.method)
	assert.Equal(t, []string{"true"}, got.query["dryRun"])
	assert.Equal(t, "Bearer t0k", got.headers.Get("Authorization"))
	assert.Equal(t, "lang=en; session=s1", got.headers.Get("Cookie"))
	assert.Equal(t, map[string]any{
		"user":     "alice",
		"quantity": 2.0,
		"items":    []any{map[string]any{"sku": "A-1"}},
		"channel":  "web",
	}, got.body)
}

func TestInvoke_UnsetParametersOmitted(t *testing.T) {
	var got captured
	inv := newTestInvoker(newPetServer(t, &got), nil)
	ec := expressions.NewContext(map[string]any{"limit": 5.0, "none": nil}, nil)

	step := &schema.Step{
		StepID:      "order",
		OperationID: "createOrder",
		Parameters: []schema.Parameter{
			{Name: "limit", In: schema.InQuery, Value: "$inputs.limit"},
			{Name: "cursor", In: schema.InQuery, Value: "$inputs.cursor"},
			{Name: "filter", In: schema.InQuery, Value: "$inputs.none"},
			{Name: "X-Trace", In: schema.InHeader, Value: "$inputs.trace"},
			{Name: "session", In: schema.InCookie, Value: "$inputs.session"},
		},
	}

	_, err := inv.Invoke(context.Background(), step, ec)
	require.NoError(t, err)

	assert.Equal(t, []string{"5"}, got.query["limit"])
	assert.NotContains(t, got.query, "cursor")
	assert.NotContains(t, got.query, "filter")
	assert.NotContains(t, got.headers, "X-Trace")
	assert.Empty(t, got.headers.Get("Cookie"))
}

func TestInvoke_ComponentParameterReference(t *testing.T) {
	var got captured
	components := &schema.Components{Parameters: map[string]schema.Parameter{
		"petId": {Name: "petId", In: schema.InPath, Value: "7"},
	}}
	inv := newTestInvoker(newPetServer(t, &got), components)

	step := &schema.Step{
		StepID:      "get-pet",
		OperationID: "getPet",
		Parameters:  []schema.Parameter{{Reference: "$components.parameters.petId"}},
	}
	_, err := inv.Invoke(context.Background(), step, expressions.NewContext(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "/pet/7", got.path)

	step.Parameters = []schema.Parameter{{Reference: "$components.parameters.petId", Value: "9"}}
	_, err = inv.Invoke(context.Background(), step, expressions.NewContext(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "/pet/9", got.path)

	step.Parameters = []schema.Parameter{{Reference: "$components.parameters.nope"}}
	_, err = inv.Invoke(context.Background(), step, expressions.NewContext(nil, nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestInvoke_OperationNotFound(t *testing.T) {
	var got captured
	inv := newTestInvoker(newPetServer(t, &got), nil)

	_, err := inv.Invoke(context.Background(), &schema.Step{StepID: "x", OperationID: "missing"}, expressions.NewContext(nil, nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeOperationNotFound, schema.CodeOf(err))

	var werr *schema.WrkfloError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "x", werr.StepID)
}

func TestInvoke_ProtocolErrorKeepsResponse(t *testing.T) {
	var got captured
	inv := newTestInvoker(newPetServer(t, &got), nil)

	step := &schema.Step{
		StepID:      "get-pet",
		OperationID: "getPet",
		Parameters:  []schema.Parameter{{Name: "petId", In: schema.InPath, Value: "missing"}},
	}
	res, err := inv.Invoke(context.Background(), step, expressions.NewContext(nil, nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTransport, schema.CodeOf(err))

	terr, ok := transport.AsError(err)
	require.True(t, ok)
	assert.Equal(t, transport.KindProtocol, terr.Kind)
	assert.Equal(t, 404, terr.StatusCode)

	require.NotNil(t, res)
	assert.Equal(t, 404, res.StatusCode)
	v, known := res.Context.Root(expressions.RootStatusCode)
	assert.True(t, known)
	assert.Equal(t, 404, v)
}

func TestInvoke_NetworkError(t *testing.T) {
	var got captured
	srv := newPetServer(t, &got)
	inv := newTestInvoker(srv, nil)
	srv.Close()

	res, err := inv.Invoke(context.Background(), &schema.Step{
		StepID:      "get-pet",
		OperationID: "getPet",
		Parameters:  []schema.Parameter{{Name: "petId", In: schema.InPath, Value: "1"}},
	}, expressions.NewContext(nil, nil))
	require.Error(t, err)
	assert.Nil(t, res)

	terr, ok := transport.AsError(err)
	require.True(t, ok)
	assert.Equal(t, transport.KindNetwork, terr.Kind)
}

func TestInvoke_UnknownRootInParameter(t *testing.T) {
	var got captured
	inv := newTestInvoker(newPetServer(t, &got), nil)

	_, err := inv.Invoke(context.Background(), &schema.Step{
		StepID:      "get-pet",
		OperationID: "getPet",
		Parameters:  []schema.Parameter{{Name: "petId", In: schema.InPath, Value: "$secrets.id"}},
	}, expressions.NewContext(nil, nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownRoot, schema.CodeOf(err))
}

type fakeRunner struct {
	gotID     string
	gotInputs map[string]any
	outputs   map[string]any
	err       error
}

func (f *fakeRunner) RunWorkflow(_ context.Context, id string, inputs map[string]any) (map[string]any, error) {
	f.gotID, f.gotInputs = id, inputs
	return f.outputs, f.err
}

func TestInvoke_NestedWorkflow(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]any{"token": "abc"}}
	inv := NewInvoker(Config{Runner: runner})
	ec := expressions.NewContext(map[string]any{"user": "alice"}, nil)

	res, err := inv.Invoke(context.Background(), &schema.Step{
		StepID:     "auth",
		WorkflowID: "login",
		Parameters: []schema.Parameter{{Name: "username", Value: "$inputs.user"}},
		Outputs:    map[string]any{"accessToken": "$outputs.token"},
	}, ec)
	require.NoError(t, err)

	assert.Equal(t, "login", runner.gotID)
	assert.Equal(t, map[string]any{"username": "alice"}, runner.gotInputs)
	assert.Equal(t, map[string]any{"accessToken": "abc"}, res.Outputs)

	ref, err := expressions.ParseReference("$workflows.login.outputs.token")
	require.NoError(t, err)
	v, err := ref.Resolve(ec)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestInvoke_NestedWorkflowFailure(t *testing.T) {
	runner := &fakeRunner{err: schema.NewError(schema.ErrCodeCriteriaNotMet, "inner failed")}
	inv := NewInvoker(Config{Runner: runner})

	_, err := inv.Invoke(context.Background(), &schema.Step{StepID: "auth", WorkflowID: "login"}, expressions.NewContext(nil, nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCriteriaNotMet, schema.CodeOf(err))
}

func TestStepResult_XML(t *testing.T) {
	assert.Equal(t, "<a/>", (&StepResult{Body: "<a/>"}).XML())
	assert.Equal(t, "", (&StepResult{Body: map[string]any{}}).XML())
	assert.Equal(t, "", (*StepResult)(nil).XML())
}
