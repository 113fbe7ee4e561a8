// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package tracing 为每次调用（单次或完整流式会话）提供 Span 生命周期与追踪物化。

# 核心组件

  - Tracer.WithSpan：在新的根 Span 中执行回调，任何退出路径（正常返回、错误、panic）
    都会且只会结束一次 Span，记录输入、输出与 duration_ms 属性
  - Recorder：sdktrace.SpanProcessor 实现，收集调用 Span 及其子 Span，
    在调用 Span 结束时组装 TraceDocument
  - Store：追踪文档存储。MemoryStore（LRU，始终启用）、RedisStore（多副本共享）、
    SQLStore（agent_traces 表，持久化）
  - InvocationSampler：保证调用 Span 即使未被采样导出也会被记录

# 物化

Recorder.Materialize 先查内存 LRU，再查外部存储。
未知、尚未结束或已被淘汰的 trace id 返回 TRACE_NOT_FOUND。
*/
package tracing
