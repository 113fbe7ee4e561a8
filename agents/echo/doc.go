// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package echo 提供一个把最后一条用户消息原样返回的参考 Agent。

它为每种 AgentType 生成对应结构的单次响应与流式分片，
agent-server 在指定 --agent-type 时注册它，便于本地联调与端到端测试。
agent/v2/chat 的流式回调以异步（channel）模式注册，其余类型为同步模式。
*/
package echo
