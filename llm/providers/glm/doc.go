// Copyright 2026 Tensorgate Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 glm 提供智谱 AI GLM 系列模型的 Provider 适配实现。该包是独立实现，
不依赖 openaicompat：自带 OpenAI 格式的请求/响应类型、http.Client 与错误映射，
对接智谱开放平台 API（open.bigmodel.cn），支持统一补全与流式响应。

# 核心结构体

  - GLMProvider — 独立的 Provider 实现，默认 BaseURL 为 https://open.bigmodel.cn，
    请求路径为 /api/paas/v4/chat/completions

# 构造函数

  - NewGLMProvider(cfg, logger) — 创建实例，默认模型 glm-4-plus

# 支持能力

  - Chat Completions（/api/paas/v4/chat/completions）
  - 流式输出（SSE）
  - 原生 Function Calling / Tool Use
  - HealthCheck / ListModels（/api/paas/v4/models）
*/
package glm
