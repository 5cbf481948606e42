// Copyright (c) Tensorgate Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Tensorgate HTTP API 的请求处理器实现。

# 概述

handlers 包实现了网关所有 HTTP 端点的请求处理逻辑，包括推理、反馈、
健康检查以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http
接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - InferenceHandler — 推理处理器，支持同步与 SSE 流式响应
  - FeedbackHandler  — 指标反馈处理器
  - HealthHandler    — 服务健康检查（/status, /healthz, /ready）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（分析库等）

# 主要能力

  - 统一错误格式：{error: {kind, message, details}}，WriteError /
    WriteAnyError 辅助函数，failover 细节经 details.provider_errors 透出
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - SSE 流式输出：终止事件携带 usage 与 inference_id
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
