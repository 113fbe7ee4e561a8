// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，用于在多个服务副本之间共享追踪文档。

# 核心类型

  - Manager：持有 Redis 客户端与连接池配置，提供 Get/Set/Delete/TTL 基础操作
    以及 GetJSON/SetJSON 序列化方法；所有键自动加上 KeyPrefix。
  - Config：地址、密码、键前缀、默认 TTL、连接池大小与健康检查间隔。

# 主要能力

  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警，Close 时停止。
  - 就绪检查：Ping 供 /ready 使用。
  - 错误语义：ErrCacheMiss 与 IsCacheMiss 判断未命中，ErrClosed 表示已关闭。
*/
package cache
