// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agent-server 的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 registry、validator、
tracing、api 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误，含 HTTP 状态码、Retryable、AgentType 标记

# 错误分类

  - 客户端错误：MALFORMED_BODY / INVALID_PARAMETERS → 400
  - 配置错误：SERVER_MISCONFIGURED / ALREADY_REGISTERED → 500 或启动失败
  - 回调错误：CALLBACK_ERROR / UNSUPPORTED_RESULT / INVALID_RESULT → 500
  - 追踪错误：TRACE_NOT_FOUND → 404

# 主要能力

  - 错误工具链：AsError / IsErrorCode / GetErrorCode / IsRetryable
  - 状态映射：StatusForCode / (*Error).Status
*/
package types
