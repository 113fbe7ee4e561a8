// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑。
//
// 无论是否启用导出，都会创建 SDK TracerProvider 并挂载调用追踪 Recorder，
// 采样器保证调用 span 至少被本地记录（RecordOnly），以便在响应中返回完整追踪。
// 启用后额外创建 OTLP gRPC 追踪与指标导出器，按 sample_rate 采样导出。
package telemetry
