package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/tensorgate/api"
	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/feedback"
	"github.com/BaSui01/tensorgate/internal/gateway/observability"
	"github.com/BaSui01/tensorgate/internal/gateway/orchestrator"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/internal/gateway/sampler"
	"github.com/BaSui01/tensorgate/internal/gateway/schema"
	"github.com/BaSui01/tensorgate/internal/metrics"
	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/llm/providers/dummy"
	"github.com/BaSui01/tensorgate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 网关端到端测试环境
// =============================================================================

var gwNamespaceSeq int

type gatewayHarness struct {
	inference *InferenceHandler
	feedback  *FeedbackHandler
	sink      *observability.MemorySink
}

func compileTestSchema(t *testing.T, dir, name, doc string) *schema.Schema {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	s, err := schema.Compile(path)
	require.NoError(t, err)
	return s
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	dir := t.TempDir()

	systemSchema := compileTestSchema(t, dir, "system.json", `{
		"type": "object",
		"properties": {"assistant_name": {"type": "string"}},
		"required": ["assistant_name"],
		"additionalProperties": false
	}`)
	outputSchema := compileTestSchema(t, dir, "output.json", `{
		"type": "object",
		"properties": {"answer": {"type": "string"}},
		"required": ["answer"],
		"additionalProperties": false
	}`)
	tempSchema := compileTestSchema(t, dir, "get_temperature.json", `{
		"type": "object",
		"properties": {
			"location": {"type": "string"},
			"units": {"type": "string", "enum": ["celsius", "fahrenheit"]}
		},
		"required": ["location"],
		"additionalProperties": false
	}`)

	tmplPath := filepath.Join(dir, "system.tmpl")
	require.NoError(t, os.WriteFile(tmplPath, []byte(`You are a helpful assistant named {{.assistant_name}}.`), 0o600))
	systemTemplate, err := schema.LoadTemplate(tmplPath)
	require.NoError(t, err)

	singleVariant := func(fn *config.Function, v *config.Variant) {
		fn.Variants = map[string]*config.Variant{v.Name: v}
		fn.SampleTable = sampler.Build([]sampler.Candidate{{Name: v.Name, Weight: v.Weight}})
	}

	reg := &config.Registry{
		Functions: map[string]*config.Function{},
		Models: map[string]*config.Model{
			"test": {Name: "test", Routing: []string{"good"}, Providers: map[string]*config.Provider{
				"good": {Name: "good", Type: "dummy"},
			}},
			"fallback": {Name: "fallback", Routing: []string{"error", "good"}, Providers: map[string]*config.Provider{
				"error": {Name: "error", Type: "dummy"},
				"good":  {Name: "good", Type: "dummy"},
			}},
			"json": {Name: "json", Routing: []string{"json"}, Providers: map[string]*config.Provider{
				"json": {Name: "json", Type: "dummy"},
			}},
			"tool": {Name: "tool", Routing: []string{"tool"}, Providers: map[string]*config.Provider{
				"tool": {Name: "tool", Type: "dummy"},
			}},
		},
		Tools: map[string]*config.Tool{
			"get_temperature": {Name: "get_temperature", Description: "Look up the current temperature.", Parameters: tempSchema},
		},
		Metrics: map[string]*config.Metric{
			"task_success": {Name: "task_success", Type: config.MetricBoolean, Optimize: config.OptimizeMax, Level: config.LevelInference},
		},
	}

	basic := &config.Function{Name: "basic_test", Kind: config.FunctionChat, SystemSchema: systemSchema}
	bv := &config.Variant{Name: "test", Weight: 1, ModelName: "test", SystemTemplate: systemTemplate, JSONMode: config.JSONModeOff}
	singleVariant(basic, bv)
	reg.Functions["basic_test"] = basic

	fb := &config.Function{Name: "model_fallback_test", Kind: config.FunctionChat, SystemSchema: systemSchema}
	fbv := &config.Variant{Name: "test", Weight: 1, ModelName: "fallback", SystemTemplate: systemTemplate, JSONMode: config.JSONModeOff}
	singleVariant(fb, fbv)
	reg.Functions["model_fallback_test"] = fb

	js := &config.Function{Name: "json_success", Kind: config.FunctionJSON, SystemSchema: systemSchema, OutputSchema: outputSchema}
	jsv := &config.Variant{Name: "test", Weight: 1, ModelName: "json", SystemTemplate: systemTemplate, JSONMode: config.JSONModeOn}
	singleVariant(js, jsv)
	reg.Functions["json_success"] = js

	jf := &config.Function{Name: "json_fail", Kind: config.FunctionJSON, SystemSchema: systemSchema, OutputSchema: outputSchema}
	jfv := &config.Variant{Name: "test", Weight: 1, ModelName: "test", SystemTemplate: systemTemplate, JSONMode: config.JSONModeOn}
	singleVariant(jf, jfv)
	reg.Functions["json_fail"] = jf

	wh := &config.Function{Name: "weather_helper", Kind: config.FunctionChat, Tools: []string{"get_temperature"}}
	whv := &config.Variant{Name: "test", Weight: 1, ModelName: "tool", JSONMode: config.JSONModeOff}
	singleVariant(wh, whv)
	reg.Functions["weather_helper"] = wh

	providers := llm.NewProviderRegistry()
	providers.Register(router.ProviderKey("test", "good"), dummy.New(dummy.Config{ProviderName: "good", Behavior: dummy.Good}))
	providers.Register(router.ProviderKey("fallback", "error"), dummy.New(dummy.Config{ProviderName: "error", Behavior: dummy.Error}))
	providers.Register(router.ProviderKey("fallback", "good"), dummy.New(dummy.Config{ProviderName: "good", Behavior: dummy.Good}))
	providers.Register(router.ProviderKey("json", "json"), dummy.New(dummy.Config{ProviderName: "json", Behavior: dummy.JSON}))
	providers.Register(router.ProviderKey("tool", "tool"), dummy.New(dummy.Config{ProviderName: "tool", Behavior: dummy.Tool}))

	gwNamespaceSeq++
	collector := metrics.NewCollector(fmt.Sprintf("handlers_test_%d", gwNamespaceSeq), zap.NewNop())
	sink := observability.NewMemorySink()
	pipeline := observability.NewPipeline(observability.Config{
		BufferSize: 64, BatchSize: 1, FlushInterval: 10 * time.Millisecond,
	}, sink, collector, zap.NewNop())
	t.Cleanup(pipeline.Close)

	rt := router.New(reg, providers, zap.NewNop())
	orch := orchestrator.New(reg, rt, pipeline, collector, zap.NewNop())
	svc := feedback.NewService(reg, pipeline, collector, zap.NewNop())

	return &gatewayHarness{
		inference: NewInferenceHandler(orch, zap.NewNop()),
		feedback:  NewFeedbackHandler(svc, zap.NewNop()),
		sink:      sink,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

// =============================================================================
// 🧪 推理端点测试
// =============================================================================

func TestHandleInference_ChatHappyPath(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "basic_test",
		Input:        api.InferenceInput{System: json.RawMessage(`{"assistant_name":"Dr. M."}`)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.InferenceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, "test", resp.VariantName)
	assert.Greater(t, resp.Usage.InputTokens, 0)
	assert.NotEmpty(t, resp.InferenceID)
	assert.NotEmpty(t, resp.EpisodeID)
}

func TestHandleInference_ModelFallback(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "model_fallback_test",
		Input:        api.InferenceInput{System: json.RawMessage(`{"assistant_name":"Dr. M."}`)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool { return len(h.sink.Inferences()) == 1 }, 3*time.Second, 10*time.Millisecond)
	rec := h.sink.Inferences()[0]
	assert.Equal(t, "good", rec.ProviderName)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, "error", rec.Attempts[0].Provider)
}

func TestHandleInference_JSONSuccess(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "json_success",
		Input:        api.InferenceInput{System: json.RawMessage(`{"assistant_name":"Dr. M."}`)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.InferenceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	var out struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(resp.Output, &out))
	assert.NotEmpty(t, out.Answer)
	assert.NotEmpty(t, resp.Content)
}

func TestHandleInference_JSONFailureIs422(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "json_fail",
		Input:        api.InferenceInput{System: json.RawMessage(`{"assistant_name":"Dr. M."}`)},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.ErrOutputValidation), resp.Error.Kind)

	// the failed inference is still persisted, with no parsed output
	require.Eventually(t, func() bool { return len(h.sink.Inferences()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Nil(t, h.sink.Inferences()[0].ParsedOutput)
}

func TestHandleInference_ToolCall(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "weather_helper",
		Input:        api.InferenceInput{User: json.RawMessage(`"What is the temperature in Tokyo?"`)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.InferenceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_temperature", resp.ToolCalls[0].Name)

	var args struct {
		Location string `json:"location"`
	}
	require.NoError(t, json.Unmarshal(resp.ToolCalls[0].Arguments, &args))
	assert.Equal(t, "Tokyo", args.Location)
}

func TestHandleInference_UnknownFunctionIs400(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "does_not_exist",
		Input:        api.InferenceInput{User: json.RawMessage(`"hi"`)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInference_MissingFunctionName(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		Input: api.InferenceInput{User: json.RawMessage(`"hi"`)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInference_Stream(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "basic_test",
		Input:        api.InferenceInput{System: json.RawMessage(`{"assistant_name":"Dr. M."}`)},
		Stream:       true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var content string
	var finalEvent *api.StreamEvent
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var ev api.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		content += ev.Content
		if ev.Final {
			finalEvent = &ev
		}
	}

	assert.NotEmpty(t, content)
	require.NotNil(t, finalEvent, "stream must end with a terminal event")
	assert.NotEmpty(t, finalEvent.InferenceID)
	require.NotNil(t, finalEvent.Usage)
	assert.Greater(t, finalEvent.Usage.InputTokens, 0)
}

// =============================================================================
// 🧪 反馈端点测试
// =============================================================================

func TestHandleFeedback_RoundTrip(t *testing.T) {
	h := newGatewayHarness(t)

	// 先完成一次推理拿到 inference_id
	w := postJSON(t, h.inference.HandleInference, "/inference", api.InferenceRequest{
		FunctionName: "basic_test",
		Input:        api.InferenceInput{System: json.RawMessage(`{"assistant_name":"Dr. M."}`)},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var infResp api.InferenceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&infResp))

	// 布尔指标接受 true
	w = postJSON(t, h.feedback.HandleFeedback, "/feedback", api.FeedbackRequest{
		MetricName: "task_success",
		TargetID:   infResp.InferenceID,
		Value:      json.RawMessage(`true`),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fbResp api.FeedbackResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&fbResp))
	assert.NotEmpty(t, fbResp.FeedbackID)

	// 同一布尔指标拒绝 1.0
	w = postJSON(t, h.feedback.HandleFeedback, "/feedback", api.FeedbackRequest{
		MetricName: "task_success",
		TargetID:   infResp.InferenceID,
		Value:      json.RawMessage(`1.0`),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleFeedback_MissingFields(t *testing.T) {
	h := newGatewayHarness(t)

	w := postJSON(t, h.feedback.HandleFeedback, "/feedback", api.FeedbackRequest{
		MetricName: "task_success",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
