package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_GoldenFixture(t *testing.T) {
	reg, err := NewLoader().WithPath("testdata/gateway.yaml").Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", reg.BindAddress)

	basic, ok := reg.Function("basic_test")
	require.True(t, ok)
	assert.Equal(t, FunctionChat, basic.Kind)
	require.Contains(t, basic.Variants, "test")
	assert.Equal(t, "test", basic.Variants["test"].ModelName)
	assert.False(t, basic.SampleTable.Empty())

	fallback, ok := reg.Model("model_fallback_test")
	require.True(t, ok)
	assert.Equal(t, []string{"error", "good"}, fallback.Routing)

	jsonFn, ok := reg.Function("json_success")
	require.True(t, ok)
	assert.Equal(t, FunctionJSON, jsonFn.Kind)
	require.NotNil(t, jsonFn.OutputSchema)

	weather, ok := reg.Function("weather_helper")
	require.True(t, ok)
	assert.Equal(t, []string{"get_temperature"}, weather.Tools)

	_, ok = reg.Metric("task_success")
	require.True(t, ok)
}

func TestLoad_RejectsChatFunctionWithOutputSchema(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
models:
  m:
    routing: [p]
    providers:
      p: {type: dummy}
functions:
  bad:
    type: chat
    output_schema: schemas/output.json
    variants:
      v: {type: chat_completion, weight: 1, model: m}
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat functions may not declare output_schema")
}

func TestLoad_RejectsAllZeroWeightVariants(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
models:
  m:
    routing: [p]
    providers:
      p: {type: dummy}
functions:
  bad:
    type: chat
    variants:
      v: {type: chat_completion, weight: 0, model: m}
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one variant must have weight > 0")
}

func TestLoad_RejectsUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
bogus_section:
  foo: bar
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
}

func TestLoad_RejectsRoutingProviderMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
models:
  m:
    routing: [p1, p2]
    providers:
      p1: {type: dummy}
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p2")
}

func TestLoad_RejectsReservedToolName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "schemas"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schemas", "p.json"), []byte(`{"type":"object"}`), 0o644))
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
tools:
  respond:
    description: "reserved"
    parameters: schemas/p.json
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestLoad_RejectsReservedMetricName(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
metrics:
  comment:
    type: boolean
    optimize: max
    level: inference
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestLoad_RejectsSchemaWithoutTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "schemas"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schemas", "system.json"), []byte(`{"type":"object"}`), 0o644))
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
models:
  m:
    routing: [p]
    providers:
      p: {type: dummy}
functions:
  bad:
    type: chat
    system_schema: schemas/system.json
    variants:
      v: {type: chat_completion, weight: 1, model: m}
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system_template is required")
}

func TestLoad_RejectsTemplateNeedingVariablesWithoutSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "t.tmpl"), []byte("Hello {{.Name}}"), 0o644))
	writeFixture(t, dir, `
gateway:
  bind_address: "0.0.0.0:3000"
models:
  m:
    routing: [p]
    providers:
      p: {type: dummy}
functions:
  bad:
    type: chat
    variants:
      v: {type: chat_completion, weight: 1, model: m, system_template: templates/t.tmpl}
`)
	_, err := NewLoader().WithPath(filepath.Join(dir, "gateway.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references variables")
}

func writeFixture(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(content), 0o644))
}
