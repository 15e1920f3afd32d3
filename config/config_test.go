package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
name: my-worker
compatibility_date: "2025-03-07"
ai:
  binding: AI
durable_objects:
  bindings:
    - name: COUNTER
      class_name: Counter
    - name: CHAT_ROOM
      class_name: ChatRoom
workflows:
  - binding: ORDER_WORKFLOW
    class_name: OrderWorkflow
observability:
  enabled: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "my-worker", cfg.Name)
	assert.Equal(t, "2025-03-07", cfg.CompatibilityDate)

	require.NotNil(t, cfg.AI)
	assert.Equal(t, "AI", cfg.AI.Binding)

	require.Len(t, cfg.DurableObjects.Bindings, 2)
	assert.Equal(t, "COUNTER", cfg.DurableObjects.Bindings[0].Name)
	assert.Equal(t, "Counter", cfg.DurableObjects.Bindings[0].ClassName)

	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "ORDER_WORKFLOW", cfg.Workflows[0].Binding)
	assert.Equal(t, "OrderWorkflow", cfg.Workflows[0].ClassName)

	assert.True(t, cfg.Observability.Enabled)
}

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(`name: tiny`))
	require.NoError(t, err)
	assert.Equal(t, "tiny", cfg.Name)
	assert.Nil(t, cfg.AI)
	assert.Empty(t, cfg.DurableObjects.Bindings)
	assert.False(t, cfg.Observability.Enabled)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-worker", cfg.Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty ai binding",
			yaml:    "ai:\n  binding: \"\"",
			wantErr: "ai.binding",
		},
		{
			name: "duplicate binding names",
			yaml: `
ai:
  binding: SHARED
durable_objects:
  bindings:
    - name: SHARED
      class_name: Counter
`,
			wantErr: "declared by both",
		},
		{
			name: "durable object missing class",
			yaml: `
durable_objects:
  bindings:
    - name: COUNTER
      class_name: ""
`,
			wantErr: "missing class_name",
		},
		{
			name: "workflow missing class",
			yaml: `
workflows:
  - binding: W
    class_name: ""
`,
			wantErr: "missing class_name",
		},
		{
			name: "durable object empty name",
			yaml: `
durable_objects:
  bindings:
    - name: ""
      class_name: Counter
`,
			wantErr: "empty name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
