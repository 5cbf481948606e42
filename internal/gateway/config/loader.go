// Package config loads and validates the gateway's function/variant/model/
// provider/tool/metric registry from a YAML document. This is distinct from
// (and loaded separately from) the process bootstrap config in the
// top-level config package — see that package's doc comment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/tensorgate/internal/gateway/sampler"
	"github.com/BaSui01/tensorgate/internal/gateway/schema"
	"github.com/BaSui01/tensorgate/types"
	"gopkg.in/yaml.v3"
)

// providerTypesSupportingStrictJSON lists vendor types whose adapters are
// known (by the provider packages under llm/providers) to support
// schema-constrained JSON output natively. json_mode: strict on any other
// provider type fails at load rather than at request time.
var providerTypesSupportingStrictJSON = map[string]bool{
	"openai":    true,
	"azure":     true,
	"anthropic": true,
	"gemini":    true,
}

// Loader builds a Registry from a YAML file, mirroring the top-level
// config.Loader builder shape (WithConfigPath/WithEnvPrefix/Load).
type Loader struct {
	path      string
	envPrefix string
}

// NewLoader returns a Loader with no path set; WithPath is required before
// Load.
func NewLoader() *Loader {
	return &Loader{envPrefix: "TENSORGATE_GATEWAY"}
}

// WithPath sets the YAML document to load.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix sets the prefix used to resolve credential_ref entries
// against environment variables (e.g. "TENSORGATE_GATEWAY" + "_OPENAI_API_KEY").
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load parses, validates and resolves the configured YAML document into an
// immutable Registry. Every failure here is fatal: the gateway refuses to
// start rather than serve with a partially valid registry.
func (l *Loader) Load() (*Registry, error) {
	if l.path == "" {
		return nil, invalidConfig("gateway config path not set")
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, invalidConfig("open %s: %v", l.path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, invalidConfig("decode %s: %v", l.path, err)
	}

	return l.resolve(&raw, filepath.Dir(l.path))
}

// rawConfig is the unresolved, file-shaped decode target: raw paths only,
// no filesystem access yet. Resolving schema/template paths relative to
// the config file's directory and building the immutable Registry happens
// in a second pass, in resolve.
type rawConfig struct {
	Gateway   rawGateway             `yaml:"gateway"`
	Models    map[string]rawModel    `yaml:"models"`
	Functions map[string]rawFunction `yaml:"functions"`
	Metrics   map[string]rawMetric   `yaml:"metrics"`
	Tools     map[string]rawTool     `yaml:"tools"`
}

type rawGateway struct {
	BindAddress string `yaml:"bind_address"`
}

type rawModel struct {
	Routing   []string               `yaml:"routing"`
	Providers map[string]rawProvider `yaml:"providers"`
}

// rawProvider is deliberately a bare map rather than a struct: vendor fields
// vary too much (endpoint, deployment_id, region, api_base, model_name,
// credential_ref, ...) to fix a single shape, and yaml.Decoder.KnownFields
// only rejects unknown keys on structs, not maps.
type rawProvider map[string]any

type rawFunction struct {
	Type              string                `yaml:"type"`
	SystemSchema      string                `yaml:"system_schema"`
	UserSchema        string                `yaml:"user_schema"`
	AssistantSchema   string                `yaml:"assistant_schema"`
	OutputSchema      string                `yaml:"output_schema"`
	Tools             []string              `yaml:"tools"`
	ToolChoice        string                `yaml:"tool_choice"`
	ParallelToolCalls *bool                 `yaml:"parallel_tool_calls"`
	Variants          map[string]rawVariant `yaml:"variants"`
}

type rawVariant struct {
	Type              string   `yaml:"type"`
	Weight            float64  `yaml:"weight"`
	Model             string   `yaml:"model"`
	SystemTemplate    string   `yaml:"system_template"`
	UserTemplate      string   `yaml:"user_template"`
	AssistantTemplate string   `yaml:"assistant_template"`
	Temperature       *float64 `yaml:"temperature"`
	MaxTokens         *int     `yaml:"max_tokens"`
	Seed              *int64   `yaml:"seed"`
	TopP              *float64 `yaml:"top_p"`
	JSONMode          string   `yaml:"json_mode"`
}

type rawMetric struct {
	Type     string `yaml:"type"`
	Optimize string `yaml:"optimize"`
	Level    string `yaml:"level"`
}

type rawTool struct {
	Description string `yaml:"description"`
	Parameters  string `yaml:"parameters"`
}

func (l *Loader) resolve(raw *rawConfig, baseDir string) (*Registry, error) {
	if raw.Gateway.BindAddress == "" {
		return nil, invalidConfig("gateway.bind_address is required")
	}

	reg := &Registry{
		BindAddress: raw.Gateway.BindAddress,
		Functions:   make(map[string]*Function, len(raw.Functions)),
		Models:      make(map[string]*Model, len(raw.Models)),
		Tools:       make(map[string]*Tool, len(raw.Tools)),
		Metrics:     make(map[string]*Metric, len(raw.Metrics)),
	}

	// Step 6 (providers validated as part of model resolution, ahead of
	// function resolution since functions reference models by name).
	if err := l.resolveModels(raw, reg); err != nil {
		return nil, err
	}

	if err := resolveTools(raw, baseDir, reg); err != nil {
		return nil, err
	}

	if err := resolveMetrics(raw, reg); err != nil {
		return nil, err
	}

	// Steps 2-5, 7: function/variant resolution, schema/template loading,
	// coherence checks, sampler table construction.
	if err := resolveFunctions(raw, baseDir, reg); err != nil {
		return nil, err
	}

	return reg, nil
}

func (l *Loader) resolveModels(raw *rawConfig, reg *Registry) error {
	for name, rm := range raw.Models {
		if len(rm.Routing) == 0 {
			return invalidConfig("model %q: routing must be non-empty", name)
		}
		seen := make(map[string]bool, len(rm.Routing))
		for _, p := range rm.Routing {
			if seen[p] {
				return invalidConfig("model %q: routing lists %q more than once", name, p)
			}
			seen[p] = true
			if _, ok := rm.Providers[p]; !ok {
				return invalidConfig("model %q: routing entry %q has no matching providers entry", name, p)
			}
		}
		for p := range rm.Providers {
			if !seen[p] {
				return invalidConfig("model %q: providers entry %q is not listed in routing", name, p)
			}
		}

		providers := make(map[string]*Provider, len(rm.Providers))
		for pname, rp := range rm.Providers {
			p, err := l.resolveProvider(name, pname, rp)
			if err != nil {
				return err
			}
			providers[pname] = p
		}

		reg.Models[name] = &Model{Name: name, Routing: rm.Routing, Providers: providers}
	}
	return nil
}

func (l *Loader) resolveProvider(modelName, providerName string, rp rawProvider) (*Provider, error) {
	typ, _ := rp["type"].(string)
	if typ == "" {
		return nil, invalidConfig("model %q provider %q: type is required", modelName, providerName)
	}

	extra := make(map[string]string, len(rp))
	var credential Secret
	for k, v := range rp {
		if k == "type" {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if k == "credential_ref" {
			credential = Secret(resolveEnv(l.envPrefix, s))
			continue
		}
		if k == "api_key" || k == "secret" || k == "token" {
			credential = Secret(s)
			continue
		}
		extra[k] = s
	}

	return &Provider{Name: providerName, Type: typ, Extra: extra, Credential: credential}, nil
}

func resolveEnv(prefix, name string) string {
	key := strings.ToUpper(strings.TrimPrefix(strings.ReplaceAll(name, "-", "_"), "$"))
	if prefix != "" {
		key = prefix + "_" + key
	}
	return os.Getenv(key)
}

func resolveTools(raw *rawConfig, baseDir string, reg *Registry) error {
	for name, rt := range raw.Tools {
		if name == ReservedToolName {
			return invalidConfig("tool %q: name is reserved for implicit_tool JSON mode", name)
		}
		if rt.Parameters == "" {
			return invalidConfig("tool %q: parameters schema is required", name)
		}
		compiled, err := schema.Compile(resolvePath(baseDir, rt.Parameters))
		if err != nil {
			return invalidConfig("tool %q: %v", name, err)
		}
		reg.Tools[name] = &Tool{Name: name, Description: rt.Description, Parameters: compiled}
	}
	return nil
}

func resolveMetrics(raw *rawConfig, reg *Registry) error {
	for name, rm := range raw.Metrics {
		if reservedMetricNames[name] {
			return invalidConfig("metric %q: name is reserved", name)
		}

		var mt MetricType
		switch rm.Type {
		case "boolean":
			mt = MetricBoolean
		case "float":
			mt = MetricFloat
		default:
			return invalidConfig("metric %q: type must be boolean or float, got %q", name, rm.Type)
		}

		var opt MetricOptimize
		switch rm.Optimize {
		case "min":
			opt = OptimizeMin
		case "max":
			opt = OptimizeMax
		default:
			return invalidConfig("metric %q: optimize must be min or max, got %q", name, rm.Optimize)
		}

		var level MetricLevel
		switch rm.Level {
		case "inference":
			level = LevelInference
		case "episode":
			level = LevelEpisode
		default:
			return invalidConfig("metric %q: level must be inference or episode, got %q", name, rm.Level)
		}

		reg.Metrics[name] = &Metric{Name: name, Type: mt, Optimize: opt, Level: level}
	}
	return nil
}

func resolveFunctions(raw *rawConfig, baseDir string, reg *Registry) error {
	for name, rf := range raw.Functions {
		fn, err := resolveFunction(name, rf, baseDir, reg)
		if err != nil {
			return err
		}
		reg.Functions[name] = fn
	}
	return nil
}

func resolveFunction(name string, rf rawFunction, baseDir string, reg *Registry) (*Function, error) {
	var kind FunctionKind
	switch rf.Type {
	case "chat":
		kind = FunctionChat
	case "json":
		kind = FunctionJSON
	default:
		return nil, invalidConfig("function %q: type must be chat or json, got %q", name, rf.Type)
	}

	fn := &Function{Name: name, Kind: kind, Tools: rf.Tools}

	if kind == FunctionChat && rf.OutputSchema != "" {
		return nil, invalidConfig("function %q: chat functions may not declare output_schema", name)
	}
	if kind == FunctionJSON && rf.OutputSchema == "" {
		return nil, invalidConfig("function %q: json functions require output_schema", name)
	}

	var err error
	if fn.SystemSchema, err = compileOptionalSchema(baseDir, rf.SystemSchema); err != nil {
		return nil, invalidConfig("function %q: system_schema: %v", name, err)
	}
	if fn.UserSchema, err = compileOptionalSchema(baseDir, rf.UserSchema); err != nil {
		return nil, invalidConfig("function %q: user_schema: %v", name, err)
	}
	if fn.AssistantSchema, err = compileOptionalSchema(baseDir, rf.AssistantSchema); err != nil {
		return nil, invalidConfig("function %q: assistant_schema: %v", name, err)
	}
	if fn.OutputSchema, err = compileOptionalSchema(baseDir, rf.OutputSchema); err != nil {
		return nil, invalidConfig("function %q: output_schema: %v", name, err)
	}

	for _, t := range rf.Tools {
		if _, ok := reg.Tools[t]; !ok {
			return nil, invalidConfig("function %q: tool %q is not declared", name, t)
		}
	}

	if fn.ToolChoice, err = parseToolChoice(rf.ToolChoice); err != nil {
		return nil, invalidConfig("function %q: %v", name, err)
	}
	if fn.ToolChoice.Mode == ToolChoiceSpecific {
		found := false
		for _, t := range rf.Tools {
			if t == fn.ToolChoice.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, invalidConfig("function %q: tool_choice specific(%q) is not among the function's tools", name, fn.ToolChoice.Name)
		}
	}
	if rf.ParallelToolCalls != nil {
		fn.ParallelToolCalls = *rf.ParallelToolCalls
	}

	fn.Variants = make(map[string]*Variant, len(rf.Variants))
	candidates := make([]sampler.Candidate, 0, len(rf.Variants))
	for vname, rv := range rf.Variants {
		v, err := resolveVariant(name, vname, rv, fn, baseDir, reg)
		if err != nil {
			return nil, err
		}
		fn.Variants[vname] = v
		candidates = append(candidates, sampler.Candidate{Name: vname, Weight: v.Weight})
	}

	fn.SampleTable = sampler.Build(candidates)
	if fn.SampleTable.Empty() {
		return nil, invalidConfig("function %q: at least one variant must have weight > 0", name)
	}

	return fn, nil
}

func parseToolChoice(raw string) (ToolChoice, error) {
	if raw == "" {
		return ToolChoice{Mode: ToolChoiceAuto}, nil
	}
	if name, ok := strings.CutPrefix(raw, "specific:"); ok {
		if name == "" {
			return ToolChoice{}, fmt.Errorf("tool_choice specific(...) requires a tool name")
		}
		return ToolChoice{Mode: ToolChoiceSpecific, Name: name}, nil
	}
	switch raw {
	case "auto":
		return ToolChoice{Mode: ToolChoiceAuto}, nil
	case "none":
		return ToolChoice{Mode: ToolChoiceNone}, nil
	case "required":
		return ToolChoice{Mode: ToolChoiceRequired}, nil
	default:
		return ToolChoice{}, fmt.Errorf("tool_choice must be auto, none, required, or specific:<name>, got %q", raw)
	}
}

func resolveVariant(fnName, vname string, rv rawVariant, fn *Function, baseDir string, reg *Registry) (*Variant, error) {
	if rv.Type != "" && rv.Type != "chat_completion" {
		return nil, invalidConfig("function %q variant %q: type must be chat_completion, got %q", fnName, vname, rv.Type)
	}
	if rv.Weight < 0 {
		return nil, invalidConfig("function %q variant %q: weight must be non-negative", fnName, vname)
	}
	if rv.Model == "" {
		return nil, invalidConfig("function %q variant %q: model is required", fnName, vname)
	}
	if _, ok := reg.Models[rv.Model]; !ok {
		return nil, invalidConfig("function %q variant %q: model %q is not declared", fnName, vname, rv.Model)
	}

	v := &Variant{
		Name:        vname,
		Weight:      rv.Weight,
		ModelName:   rv.Model,
		Temperature: rv.Temperature,
		MaxTokens:   rv.MaxTokens,
		Seed:        rv.Seed,
		TopP:        rv.TopP,
	}

	switch rv.JSONMode {
	case "", "off":
		v.JSONMode = JSONModeOff
	case "on":
		v.JSONMode = JSONModeOn
	case "strict":
		v.JSONMode = JSONModeStrict
	case "implicit_tool":
		v.JSONMode = JSONModeImplicitTool
	default:
		return nil, invalidConfig("function %q variant %q: json_mode %q is invalid", fnName, vname, rv.JSONMode)
	}
	if v.JSONMode != JSONModeOff && fn.Kind != FunctionJSON {
		return nil, invalidConfig("function %q variant %q: json_mode is only meaningful for json functions", fnName, vname)
	}
	if v.JSONMode == JSONModeStrict {
		if err := validateStrictJSONSupported(fnName, vname, reg.Models[rv.Model]); err != nil {
			return nil, err
		}
	}

	var err error
	if v.SystemTemplate, err = resolveTemplate(fnName, vname, "system", rv.SystemTemplate, fn.SystemSchema, baseDir); err != nil {
		return nil, err
	}
	if v.UserTemplate, err = resolveTemplate(fnName, vname, "user", rv.UserTemplate, fn.UserSchema, baseDir); err != nil {
		return nil, err
	}
	if v.AssistantTemplate, err = resolveTemplate(fnName, vname, "assistant", rv.AssistantTemplate, fn.AssistantSchema, baseDir); err != nil {
		return nil, err
	}

	return v, nil
}

// validateStrictJSONSupported is a load-time check for json_mode: strict —
// every provider in the variant's model routing must
// be a vendor type known to support schema-constrained JSON output.
func validateStrictJSONSupported(fnName, vname string, model *Model) error {
	for _, providerName := range model.Routing {
		p := model.Providers[providerName]
		if !providerTypesSupportingStrictJSON[p.Type] {
			return invalidConfig("function %q variant %q: json_mode strict requires every routed provider to support native JSON Schema output; provider %q (type %q) does not", fnName, vname, providerName, p.Type)
		}
	}
	return nil
}

// resolveTemplate enforces the role/schema/template coherence rule both
// ways: a template that references variables requires the role's schema,
// and a declared role schema requires a template to bind its fields into —
// structured input with nowhere to render is a config mistake, not a
// render-time passthrough.
func resolveTemplate(fnName, vname, role, path string, roleSchema *schema.Schema, baseDir string) (*schema.Template, error) {
	if path == "" {
		if roleSchema != nil {
			return nil, invalidConfig("function %q variant %q: %s_template is required when the function declares a %s_schema", fnName, vname, role, role)
		}
		return nil, nil
	}
	tmpl, err := schema.LoadTemplate(resolvePath(baseDir, path))
	if err != nil {
		return nil, invalidConfig("function %q variant %q: %s_template: %v", fnName, vname, role, err)
	}
	if roleSchema == nil && tmpl.NeedsVariables() {
		return nil, invalidConfig("function %q variant %q: %s_template references variables but the function declares no %s_schema", fnName, vname, role, role)
	}
	return tmpl, nil
}

func compileOptionalSchema(baseDir, path string) (*schema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	return schema.Compile(resolvePath(baseDir, path))
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func invalidConfig(format string, args ...any) error {
	return types.NewError(types.ErrBadRequest, fmt.Sprintf("invalid config: "+format, args...)).
		WithHTTPStatus(types.HTTPStatusForCode(types.ErrBadRequest))
}
