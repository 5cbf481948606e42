// Copyright (c) Tensorgate Authors.
// Licensed under the MIT License.

/*
Package types 提供网关的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、api 与
internal/gateway 各层提供统一的错误契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、
    Provider 标记与 Cause 链

# 错误码

网关对外可见的错误码与恢复语义集中在此：IsFailoverable 决定模型路由
是否换下一个 Provider 重试，HTTPStatusForCode 决定 HTTP 层最终状态码。
两张映射表只存在于这一个地方。
*/
package types
