// Package tlsutil 提供集中式 TLS 配置：
// HTTPS 监听（ServerTLSConfig）、Redis 连接与 health 探测客户端共用同一套加固设置
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
