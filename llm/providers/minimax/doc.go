// Copyright 2026 Tensorgate Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 minimax 提供 MiniMax 模型的 Provider 适配实现。本包是独立实现，
不依赖 openaicompat：自带请求/响应类型、http.Client、SSE 解析与错误映射，
并以 XML 格式承载 tool call。

# 核心结构体

  - MiniMaxProvider — 独立的 Provider 实现，请求发往
    /v1/text/chatcompletion_v2，工具调用写在 <tool_calls> XML 标签中

# 定制行为

  - 默认 BaseURL: https://api.minimax.io
  - 默认兜底模型: abab6.5s-chat
  - 请求中 assistant 的工具调用被写成 content 中的 <tool_calls> XML
  - 响应后处理（Completion 与 Stream）: 检测 content 中的
    <tool_calls>...</tool_calls> XML 标签，提取并转换为标准 llm.ToolCall 结构

# 支持能力

  - Chat Completion（同步）
  - 流式输出（SSE，含 XML tool call 后处理）
  - Function Calling / Tool Use（XML 格式）
  - 健康检查（最小补全请求）、模型列表（/v1/models）
*/
package minimax
