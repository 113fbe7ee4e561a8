// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 agent-server 服务端程序入口。

# 概述

cmd/agent-server 将一个 Agent 回调托管为 HTTP 服务，提供 serve、migrate、
health 和 version 子命令。程序支持 YAML 配置文件加载、结构化日志（zap）、
Prometheus 指标采集、OpenTelemetry 追踪以及日志级别热更新。

# 核心类型

  - Server          — 组装追踪存储、Recorder、指标和 HTTP/Metrics 双端口
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter  — 包装 http.ResponseWriter 以捕获状态码，通过 Unwrap 保留 Flush

# 主要能力

  - 路由：POST /invocations、GET /health、GET /ready、GET /version
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    CORS、RateLimiter（基于 IP，可选）、MetricsMiddleware、OTelTracing
  - 追踪存储：memory、redis（cache.Manager）、database（gorm + 连接池，
    可选启动时自动迁移和按保留期定期清理）
  - 外部存储写入由有界 goroutine 池执行
  - 配置热更新：config.Watcher 监听文件变更，仅更新日志级别
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：HTTP → Metrics → 后台任务 → TracerProvider/Recorder → 存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
