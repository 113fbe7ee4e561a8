// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
Agent 调用与数据库连接池三个维度。

# 概述

Collector 通过 promauto 注册指标，默认注册到 prometheus.DefaultRegisterer，
测试中可通过 WithRegisterer 使用独立 Registry。配置 WithMeter 后，
调用指标会同时写入 OpenTelemetry Meter，随 OTLP 导出。

# 指标

  - agent_server_http_requests_total{method,path,status}
  - agent_server_http_request_duration_seconds{method,path}
  - agent_server_invocations_total{agent_type,mode,status}
  - agent_server_invocation_duration_seconds{agent_type,mode}
  - agent_server_stream_chunks_total{agent_type}
  - agent_server_db_connections_open / idle{database}

Collector 实现 handlers.InvocationObserver，由 /invocations 调度器直接调用。
*/
package metrics
