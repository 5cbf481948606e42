package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/internal/gateway/schema"
	"github.com/BaSui01/tensorgate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const temperatureSchema = `{
	"type": "object",
	"properties": {
		"location": {"type": "string"},
		"units": {"type": "string", "enum": ["celsius", "fahrenheit"]}
	},
	"required": ["location"],
	"additionalProperties": false
}`

func compileSchema(t *testing.T, doc string) *schema.Schema {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	s, err := schema.Compile(path)
	require.NoError(t, err)
	return s
}

func testRegistry(t *testing.T) (*config.Registry, *config.Function) {
	t.Helper()
	reg := &config.Registry{
		Tools: map[string]*config.Tool{
			"get_temperature": {
				Name:        "get_temperature",
				Description: "Look up the current temperature for a location.",
				Parameters:  compileSchema(t, temperatureSchema),
			},
		},
	}
	fn := &config.Function{
		Name:  "weather_helper",
		Kind:  config.FunctionChat,
		Tools: []string{"get_temperature"},
	}
	return reg, fn
}

func TestValidateAcceptsSchemaConformingCall(t *testing.T) {
	reg, fn := testRegistry(t)

	calls := []router.ToolCallOut{{
		ID:        "call_0",
		Name:      "get_temperature",
		Arguments: `{"location":"Tokyo","units":"celsius"}`,
	}}
	out, err := Validate(reg, fn, calls, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "get_temperature", out[0].Name)
	assert.JSONEq(t, `{"location":"Tokyo","units":"celsius"}`, string(out[0].Arguments))
}

func TestValidateRejectsSchemaViolation(t *testing.T) {
	reg, fn := testRegistry(t)

	calls := []router.ToolCallOut{{
		ID:        "call_0",
		Name:      "get_temperature",
		Arguments: `{"units":"kelvin"}`,
	}}
	_, err := Validate(reg, fn, calls, false)
	require.Error(t, err)
	assert.Equal(t, types.ErrBadToolArgs, types.GetErrorCode(err))
}

func TestValidateRejectsUndeclaredTool(t *testing.T) {
	reg, fn := testRegistry(t)

	calls := []router.ToolCallOut{{ID: "call_0", Name: "rm_rf", Arguments: `{}`}}
	_, err := Validate(reg, fn, calls, true)
	require.Error(t, err)
	assert.Equal(t, types.ErrBadToolArgs, types.GetErrorCode(err))
}

func TestValidateRejectsMalformedArgumentJSON(t *testing.T) {
	reg, fn := testRegistry(t)

	calls := []router.ToolCallOut{{ID: "call_0", Name: "get_temperature", Arguments: `{"location":`}}
	_, err := Validate(reg, fn, calls, false)
	require.Error(t, err)
	assert.Equal(t, types.ErrBadToolArgs, types.GetErrorCode(err))
}

func TestValidateParallelCalls(t *testing.T) {
	reg, fn := testRegistry(t)

	calls := []router.ToolCallOut{
		{ID: "call_0", Name: "get_temperature", Arguments: `{"location":"Tokyo"}`},
		{ID: "call_1", Name: "get_temperature", Arguments: `{"location":"Osaka"}`},
	}

	out, err := Validate(reg, fn, calls, true)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = Validate(reg, fn, calls, false)
	require.Error(t, err)
	assert.Equal(t, types.ErrBadToolArgs, types.GetErrorCode(err))
}

func TestValidateNoCalls(t *testing.T) {
	reg, fn := testRegistry(t)
	out, err := Validate(reg, fn, nil, true)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSpecsCarrySchemaSource(t *testing.T) {
	reg, fn := testRegistry(t)
	specs, err := Specs(reg, fn)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "get_temperature", specs[0].Name)
	assert.JSONEq(t, temperatureSchema, string(specs[0].Parameters))
}

func TestUnwrapImplicitTool(t *testing.T) {
	out, err := UnwrapImplicitTool([]router.ToolCallOut{{
		ID: "call_0", Name: config.ReservedToolName, Arguments: `{"answer":"Tokyo"}`,
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"Tokyo"}`, string(out))

	_, err = UnwrapImplicitTool([]router.ToolCallOut{{ID: "call_0", Name: "other", Arguments: `{}`}})
	require.Error(t, err)
	assert.Equal(t, types.ErrOutputValidation, types.GetErrorCode(err))

	_, err = UnwrapImplicitTool(nil)
	require.Error(t, err)
}
