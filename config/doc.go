// Package config 提供 agent-server 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENT_SERVER）的顺序加载，
// 命令行参数在 serve 子命令中最后覆盖。Watcher 轮询配置文件，
// 变更后重新加载并回调，用于热更新日志级别。
package config
