// 版权所有 2024 Tensorgate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供统一的大语言模型接入层，包括 Provider 抽象、规范化的
请求/响应模型与错误语义。

# 概述

本包目标是屏蔽不同模型服务商在接口、鉴权、错误语义和流式协议上的差异，
对网关的路由与编排层暴露一致的请求与响应模型。一次推理在本包的类型上
表达为一个 [ChatRequest]（消息、工具声明、采样参数、json-mode 提示、
并行工具调用提示），由某个 Provider 适配器编码为厂商方言并把响应解码
回 [ChatResponse] 或 [StreamChunk] 序列。

# Provider 抽象

核心接口是 [Provider]，包含补全、流式输出、健康检查与能力声明。
基于该接口，模型路由器可以在保持上层调用不变的前提下按 routing 顺序
在多个厂商之间做故障转移。

# 核心接口

  - [Provider]：LLM 提供者接口，提供 Completion / Stream / HealthCheck /
    Name / SupportsNativeFunctionCalling
  - [ProviderRegistry]：线程安全的 Provider 注册表，网关按
    model/provider 键存放构造好的实例

# 核心类型

  - [ChatRequest] / [ChatResponse]：聊天请求与响应
  - [ResponseFormat]：规范化的 json-mode 提示（json_object / json_schema）
  - [StreamChunk]：流式输出分片，末片可携带 Usage，Err 表示流终止
  - [ToolCall] / [ToolSchema]：模型请求的工具调用与工具声明
  - [Error] / [ErrorCode]：适配器层错误分类，供路由层映射到网关错误码
  - [HealthStatus]：健康检查状态

# 流式语义

分片保持厂商顺序；FinishReason 非空的分片为终止分片；Err 非空表示
流以错误终止，此后不再有分片。调用方取消 context 时，底层网络请求
必须随之中止。

# 相关子包

  - llm/providers：各模型服务商适配实现（openai、anthropic、gemini、
    mistral、deepseek、qwen、glm、grok、kimi、minimax、hunyuan、doubao、
    llama、openaicompat 通用兼容层、dummy 测试桩）。
  - llm/middleware：请求改写链（如空工具列表清理）。
  - llm/circuitbreaker：熔断器实现，路由层按 (model, provider) 使用。
  - llm/tokenizer：tiktoken 与估算器，厂商未报 usage 时兜底计数。
  - llm/factory：Provider 工厂与网关注册表装配。
*/
package llm
