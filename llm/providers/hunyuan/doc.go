// Copyright 2026 Tensorgate Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 hunyuan 提供腾讯混元（Hunyuan）模型的 Provider 适配实现。该包基于
openaicompat 兼容层封装，对接混元 OpenAI 兼容接口
（api.hunyuan.cloud.tencent.com），不对请求或响应做额外定制。

# 核心结构体

  - HunyuanProvider — 嵌入 openaicompat.Provider，配置腾讯混元专属
    BaseURL（https://api.hunyuan.cloud.tencent.com）

# 构造函数

  - NewHunyuanProvider(cfg, logger) — 创建实例，默认模型 hunyuan-pro

# 支持能力

  - Chat Completions（/v1/chat/completions，委托 openaicompat）
  - 流式输出（SSE，委托 openaicompat）
  - 原生 Function Calling / Tool Use
  - HealthCheck / ListModels（委托 openaicompat）
*/
package hunyuan
