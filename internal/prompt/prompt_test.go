package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personaInput() map[string]string {
	return map[string]string{
		"project_name":      "Churn",
		"problem_statement": "Why do customers leave?",
		"dataset":           "customers.csv (120 rows)",
		"schema":            "id (integer), plan (string)",
		"chunk":             "id,plan\n1,basic",
		"chunk_label":       "chunk 1 of 3 (rows 1-40)",
		"prior":             "None yet.",
	}
}

func TestBuiltinTemplatesRender(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	for _, id := range []string{"manager", "analyst", "associate"} {
		tmpl, err := reg.Get(id)
		require.NoError(t, err)
		out, err := tmpl.Render(personaInput())
		require.NoError(t, err, id)
		assert.Contains(t, out, "Why do customers leave?")
		assert.Contains(t, out, "id,plan\n1,basic")
		assert.Contains(t, out, `"narrative"`)
	}

	assert.Equal(t, []string{"analyst@v1", "associate@v1", "manager@v1", "reviewer@v1", "summary@v1"}, reg.Keys())
}

func TestRenderIsPure(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)
	tmpl, err := reg.Get("analyst")
	require.NoError(t, err)

	first, err := tmpl.Render(personaInput())
	require.NoError(t, err)
	second, err := tmpl.Render(personaInput())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderMissingVariables(t *testing.T) {
	tmpl, err := New("x", "v2", "Hello {{.name}} from {{.place}}", "name", "place")
	require.NoError(t, err)

	_, err = tmpl.Render(map[string]string{"name": "a"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "place"))
	assert.Equal(t, "x@v2", tmpl.Key())
}

func TestRenderUndeclaredVariableFails(t *testing.T) {
	tmpl, err := New("x", "v1", "Hello {{.nobody}}")
	require.NoError(t, err)

	_, err = tmpl.Render(map[string]string{})
	require.Error(t, err)
}

func TestNewRejectsBadSyntax(t *testing.T) {
	_, err := New("bad", "v1", "{{.open")
	require.Error(t, err)
}

func TestRegistryUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	require.Error(t, err)
}
