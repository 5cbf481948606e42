package config

import (
	"github.com/BaSui01/tensorgate/internal/gateway/sampler"
	"github.com/BaSui01/tensorgate/internal/gateway/schema"
)

// FunctionKind is the shape of a function's interaction: plain chat, or
// structured JSON requiring an output schema.
type FunctionKind string

const (
	FunctionChat FunctionKind = "chat"
	FunctionJSON FunctionKind = "json"
)

// ToolChoiceMode mirrors the OpenAI-style tool_choice enum, generalized
// across vendors at the normalized-request layer.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

// ToolChoice pairs a mode with the tool name when Mode is ToolChoiceSpecific.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// JSONMode controls how a variant coerces a json function's output.
type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// ReservedToolName is the synthetic tool implicit_tool mode wraps output_schema
// in. A user-declared tool with this name is a load-time error.
const ReservedToolName = "respond"

// Secret wraps a credential value so it never serializes or prints as
// plaintext. Providers resolve the underlying value only at the point of
// making an HTTP call.
type Secret string

func (s Secret) String() string               { return "[REDACTED]" }
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"[REDACTED]"`), nil }
func (s Secret) Reveal() string               { return string(s) }

// Function is the resolved, load-time-validated registry entry for one
// named interaction shape.
type Function struct {
	Name              string
	Kind              FunctionKind
	SystemSchema      *schema.Schema
	UserSchema        *schema.Schema
	AssistantSchema   *schema.Schema
	OutputSchema      *schema.Schema
	Tools             []string
	ToolChoice        ToolChoice
	ParallelToolCalls bool
	Variants          map[string]*Variant
	SampleTable       *sampler.Table
}

// Variant binds a function implementation to a model, prompt templates and
// sampling parameters.
type Variant struct {
	Name              string
	Weight            float64
	ModelName         string
	SystemTemplate    *schema.Template
	UserTemplate      *schema.Template
	AssistantTemplate *schema.Template
	Temperature       *float64
	MaxTokens         *int
	Seed              *int64
	TopP              *float64
	JSONMode          JSONMode
}

// Model is an abstract endpoint name with an ordered list of concrete
// providers tried in sequence by the router.
type Model struct {
	Name      string
	Routing   []string
	Providers map[string]*Provider
}

// Provider is one vendor-specific backend. Extra carries vendor fields
// (endpoint, deployment id, region, model id, api base) verbatim; Credential
// is never logged or serialized.
type Provider struct {
	Name       string
	Type       string
	Extra      map[string]string
	Credential Secret
}

// MetricType constrains the value shape feedback for a metric must carry.
type MetricType string

const (
	MetricBoolean MetricType = "boolean"
	MetricFloat   MetricType = "float"
)

// MetricOptimize records which direction is "better" for a metric; advisory
// only, the gateway does not act on it.
type MetricOptimize string

const (
	OptimizeMin MetricOptimize = "min"
	OptimizeMax MetricOptimize = "max"
)

// MetricLevel says whether a metric scores an episode or an inference. The
// feedback path records it but checks only that the target id is a UUID;
// episode ids and inference ids share that format and are not told apart.
type MetricLevel string

const (
	LevelInference MetricLevel = "inference"
	LevelEpisode   MetricLevel = "episode"
)

// reservedMetricNames are claimed by the feedback pipeline itself and
// rejected at load.
var reservedMetricNames = map[string]bool{
	"comment":       true,
	"demonstration": true,
}

// Metric is a named, typed feedback target.
type Metric struct {
	Name     string
	Type     MetricType
	Optimize MetricOptimize
	Level    MetricLevel
}

// Tool is a named, JSON-schema-typed callable a model may request.
type Tool struct {
	Name        string
	Description string
	Parameters  *schema.Schema
}

// Registry is the immutable, process-wide result of a successful Load.
// It is built once at startup and shared read-only by every request
// handler thereafter — no hot reload.
type Registry struct {
	BindAddress string
	Functions   map[string]*Function
	Models      map[string]*Model
	Tools       map[string]*Tool
	Metrics     map[string]*Metric
}

// Function looks up a function by name.
func (r *Registry) Function(name string) (*Function, bool) {
	f, ok := r.Functions[name]
	return f, ok
}

// Model looks up a model by name.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.Models[name]
	return m, ok
}

// Metric looks up a metric by name.
func (r *Registry) Metric(name string) (*Metric, bool) {
	m, ok := r.Metrics[name]
	return m, ok
}
