// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 agent-server 的 HTTP 请求处理器。

# 概述

handlers 包实现 POST /invocations 调度、健康检查以及统一的 JSON/SSE
响应与错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - InvocationHandler — 解析请求、剥离保留字段、校验、在追踪 Span 中分发回调
  - HealthHandler     — /health、/ready、/version
  - SSEWriter         — data-only 事件帧编码，每帧刷新，以 [DONE] 结束
  - ErrorResponse     — 错误响应，detail 为客户端可读信息，error 携带错误码
  - ResponseWriter    — 捕获状态码与字节数，通过 Unwrap 保留 Flush 能力
  - HealthCheck       — 可插拔就绪检查接口，NewCheck 包装任意探测函数

# 请求保留字段

  - stream：布尔值，为 true 时走流式路径
  - databricks_options.return_trace：为 true 时在响应中附带完整追踪

两者在校验前从请求体中移除，不会传给回调。

# 流式协议

每个分片编码为 `data: <json>\n\n`。回调出错时先写
`data: {"error": "..."}` 再写 `data: [DONE]`；客户端断开后停止拉取分片。
*/
package handlers
