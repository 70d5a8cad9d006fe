package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runData() map[string]any {
	return map[string]any{
		"contact": map[string]any{
			"first_name": "Ada",
			"email":      "ada@example.com",
			"tags":       []any{"vip", "newsletter"},
			"fields":     map[string]any{"score": 42},
		},
		"event": map[string]any{
			"type": "stage_changed",
			"data": map[string]any{"new_stage_id": "approved"},
		},
	}
}

func TestRender_TypedValues(t *testing.T) {
	data := runData()

	result, err := Render("{{ .contact.first_name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Ada", result)

	result, err = Render("{{ .contact.fields.score }}", data)
	require.NoError(t, err)
	assert.Equal(t, 42.0, result)

	result, err = Render(`{{ eq .event.data.new_stage_id "approved" }}`, data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = Render(`{"stage": "{{ .event.data.new_stage_id }}", "tags": {{ len .contact.tags }}}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stage": "approved", "tags": 2.0}, result)
}

func TestRender_Errors(t *testing.T) {
	_, err := Render("{{ .contact.first_name ", runData())
	require.Error(t, err)

	_, err = Render("{ not json }", runData())
	require.Error(t, err)

	_, err = Render("{{ index .contact.tags 10 }}", runData())
	require.Error(t, err)
}

func TestFuncs(t *testing.T) {
	data := runData()

	tests := []struct {
		name     string
		template string
		want     any
	}{
		{"has in list", `{{ has .contact.tags "vip" }}`, true},
		{"has missing", `{{ has .contact.tags "cold" }}`, false},
		{"has on non-list", `{{ has .contact.first_name "A" }}`, false},
		{"default applies", `{{ default "friend" .contact.nickname }}`, "friend"},
		{"default keeps value", `{{ default "friend" .contact.first_name }}`, "Ada"},
		{"upper", `{{ upper .contact.first_name }}`, "ADA"},
		{"lower", `{{ lower "VIP" }}`, "vip"},
		{"contains", `{{ contains .contact.email "@example.com" }}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestRenderString(t *testing.T) {
	result, err := RenderString("Hi {{ .contact.first_name }}, you moved to {{ .event.data.new_stage_id }}{{ .missing }}", runData())
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, you moved to approved", result)

	result, err = RenderString("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", result)

	result, err = RenderString(`{{ json .event.data }}`, runData())
	require.NoError(t, err)
	assert.JSONEq(t, `{"new_stage_id":"approved"}`, result)
}

func TestRenderHTML_EscapesData(t *testing.T) {
	data := map[string]any{"contact": map[string]any{"first_name": "<script>x</script>"}}

	result, err := RenderHTML("<p>Hi {{ .contact.first_name }}</p>", data)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi &lt;script&gt;x&lt;/script&gt;</p>", result)
}
