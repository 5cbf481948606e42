// 版权所有 2024 Tensorgate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package tensorgate 是一个 LLM 推理网关。

应用方调用命名的 function（带结构化输入），网关按 episode 确定性地
采样一个 variant（提示模板 + 模型绑定），渲染提示词，按模型的 routing
顺序在多个厂商 Provider 之间分发并自动故障转移，可选地以 SSE 流回
token，对 json 类函数用 JSON Schema 校验结构化输出，分配时间有序的
inference/episode id，导出 Prometheus 指标，并把推理与反馈记录异步
批量写入分析存储。

组件导览：

  - internal/gateway/config        — 注册表加载与七步校验
  - internal/gateway/schema        — JSON Schema 编译与模板渲染
  - internal/gateway/sampler       — (function, episode) 确定性加权采样
  - internal/gateway/router        — Provider 故障转移与流式 commit 规则
  - internal/gateway/tools         — 工具调用参数校验与 implicit_tool
  - internal/gateway/orchestrator  — 请求级编排：采样→渲染→路由→校验→记录
  - internal/gateway/observability — 指标、有界缓冲与批量落库
  - internal/gateway/feedback      — 指标反馈校验与记录
  - llm, llm/providers/...         — 规范化模型接入层与各厂商适配器
  - api, cmd/tensorgate            — HTTP 契约与进程装配

入口二进制见 cmd/tensorgate。
*/
package tensorgate
