// Copyright (c) Tensorgate Authors.
// Licensed under the MIT License.

/*
Package main 提供 Tensorgate 网关程序入口。

# 概述

cmd/tensorgate 是推理网关的可执行入口。程序加载进程级 YAML 配置与
网关注册表（functions/variants/models/providers/tools/metrics），
构建 Provider 集合与观测管道，对外暴露推理、反馈、健康检查与
Prometheus 指标四类 HTTP 端点。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动网关）、version、health
  - 端点：POST /inference（支持 SSE 流式）、POST /feedback、
    GET /status、GET /metrics（独立端口）
  - 中间件链：RequestID、SecurityHeaders、Recovery、RequestLogger、
    MetricsMiddleware、OTelTracing
  - 优雅关闭：信号监听 → 停止监听 → 刷观测缓冲 → 关遥测与连接池
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
