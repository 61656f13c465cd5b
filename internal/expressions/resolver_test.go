package expressions

import (
	"context"
	"testing"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_DispatchesByDialect(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()
	ctx := context.Background()

	got, err := r.Resolve(ctx, "$statusCode == 200", ec, "", Input{})
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = r.Resolve(ctx, "$.inputs.username", ec, schema.DialectJSONPath, Input{})
	require.NoError(t, err)
	assert.Equal(t, []any{"alice"}, got)

	got, err = r.Resolve(ctx, "//pet/name", ec, schema.DialectXPath, Input{XML: petsXML})
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "cat"}, got)

	got, err = r.Resolve(ctx, "^ali", ec, schema.DialectRegex, WithSubject("alice"))
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestResolver_UnsupportedDialect(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve(context.Background(), "x", newTestContext(), "cel", Input{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
}

func TestResolver_ResolveValue(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()
	ctx := context.Background()

	t.Run("bare reference keeps type", func(t *testing.T) {
		got, err := r.ResolveValue(ctx, "$statusCode", ec)
		require.NoError(t, err)
		assert.Equal(t, 200, got)
	})

	t.Run("undefined becomes nil", func(t *testing.T) {
		got, err := r.ResolveValue(ctx, "$inputs.missing", ec)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("embedded substitution", func(t *testing.T) {
		got, err := r.ResolveValue(ctx, "Bearer {$steps.getPetStep.outputs.token}", ec)
		require.NoError(t, err)
		assert.Equal(t, "Bearer abc", got)
	})

	t.Run("expression", func(t *testing.T) {
		got, err := r.ResolveValue(ctx, "$statusCode == 200", ec)
		require.NoError(t, err)
		assert.Equal(t, true, got)
	})

	t.Run("literal passes through", func(t *testing.T) {
		got, err := r.ResolveValue(ctx, "plain", ec)
		require.NoError(t, err)
		assert.Equal(t, "plain", got)

		got, err = r.ResolveValue(ctx, 42, ec)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("nested body leaves", func(t *testing.T) {
		body := map[string]any{
			"user":  "$inputs.username",
			"tags":  []any{"$response.body#/user/uuid", "fixed"},
			"count": 1,
		}
		got, err := r.ResolveValue(ctx, body, ec)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"user":  "alice",
			"tags":  []any{"u-1", "fixed"},
			"count": 1,
		}, got)
	})

	t.Run("unknown root fails", func(t *testing.T) {
		_, err := r.ResolveValue(ctx, "$env.PATH", ec)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeUnknownRoot, schema.CodeOf(err))
	})
}

func TestResolver_ResolveMap(t *testing.T) {
	r := NewResolver()
	ec := newTestContext()

	got, err := r.ResolveMap(context.Background(), map[string]any{
		"pets":  "$response.body.items",
		"first": "$response.body.items[0]",
	}, ec)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, got["pets"])
	assert.Equal(t, 1.0, got["first"])

	_, err = r.ResolveMap(context.Background(), map[string]any{"bad": "$nope.x"}, ec)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnknownRoot))
}

func TestInterpolate(t *testing.T) {
	ec := newTestContext()

	cases := []struct {
		in   string
		want string
	}{
		{"no refs", "no refs"},
		{"/pets/{$inputs.username}", "/pets/alice"},
		{"{$statusCode}-{$method}", "200-GET"},
		{"missing:{$inputs.nope}.", "missing:."},
		{`{"literal": {not a ref}}`, `{"literal": {not a ref}}`},
		{"items={$response.body.items}", "items=[1,2]"},
		{"open {$inputs.username", "open {$inputs.username"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Interpolate(tc.in, ec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInterpolate_UnknownRoot(t *testing.T) {
	_, err := Interpolate("x {$bogus.y}", newTestContext())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownRoot, schema.CodeOf(err))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "", Stringify(Undefined))
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
