// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package agenttype 定义 agent-server 支持的 AgentType 目录。

# 概述

每个 AgentType 对应一组固定的请求、单次响应、流式分片结构，以及一个
流式归约函数（Reducer）。Reducer 只用于生成追踪输出，不会发送给客户端。
新增 AgentType 只需在目录表中登记一条 Definition，调度器无需改动。

# 支持的类型

  - agent/v1/responses — ResponsesAgentRequest / ResponsesAgentResponse / ResponsesAgentStreamEvent
  - agent/v1/chat      — ChatCompletionRequest / ChatCompletionResponse / ChatCompletionChunk
  - agent/v2/chat      — ChatAgentRequest / ChatAgentResponse / ChatAgentChunk
  - 未声明类型（Untyped）— 不做校验，流式输出原样透传

# 归约规则

  - responses：收集所有 response.output_item.done 事件的 item
  - chat v1：按顺序拼接 choices[0].delta.content
  - chat v2：收集每个分片的 delta
  - untyped：原样返回分片列表
*/
package agenttype
