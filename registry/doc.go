// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package registry 提供每个服务实例唯一的回调注册表。

注册表包含两个只能写入一次的槽位：invoke（单次调用）和 stream（流式调用）。
每个槽位在启动阶段、HTTP 监听开始之前绑定一次；重复绑定会立即返回
ALREADY_REGISTERED 错误，首次绑定保持不变。

# 同步与异步

回调的执行方式在注册时确定，而非每次请求时检测：

  - RegisterInvoke / RegisterStream：在请求 goroutine 上执行，流式回调返回 iter.Seq2
  - RegisterAsyncInvoke / RegisterAsyncStream：回调自行启动 goroutine，通过 channel 交付结果

两种方式都会被规范化为 InvokeBinding.Call 与 StreamBinding.Open，调度器统一处理。
消费方停止拉取（客户端断开或 break）时，异步流的 context 会被取消。

回调中的 panic 会被转换为 CALLBACK_ERROR。
*/
package registry
