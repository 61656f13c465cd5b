package expressions

import "github.com/seanchatmangpt/wrkflo/pkg/schema"

// newTestContext returns a context after one exchange, with a recorded step.
func newTestContext() *Context {
	doc := &schema.Document{
		SourceDescriptions: []schema.SourceDescription{
			{Name: "petstore", URL: "https://petstore.example/openapi.json", Type: schema.SourceTypeOpenAPI},
		},
	}
	ec := NewContext(map[string]any{"username": "alice", "count": 3.0}, doc)
	ec.SetStepOutputs("getPetStep", map[string]any{
		"availablePets": []any{
			map[string]any{"id": "123", "name": "dog"},
			map[string]any{"id": "456", "name": "cat"},
		},
		"token": "abc",
	})
	return ec.WithExchange(Exchange{
		URL:             "https://api.example/pets",
		Method:          "GET",
		StatusCode:      200,
		RequestHeaders:  map[string]string{"Authorization": "Bearer abc"},
		RequestBody:     map[string]any{"user": map[string]any{"uuid": "r-1"}},
		ResponseHeaders: map[string]string{"Content-Type": "application/json", "X-Rate-Limit": "10"},
		ResponseBody: map[string]any{
			"success": true,
			"user":    map[string]any{"uuid": "u-1"},
			"items":   []any{1.0, 2.0},
			"a/b":     "slash",
		},
	})
}
