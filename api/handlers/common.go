package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hiydavid/dbx-agent-on-app/internal/ctxkeys"
	"github.com/hiydavid/dbx-agent-on-app/types"
)

// DefaultMaxBodyBytes 请求体大小上限
const DefaultMaxBodyBytes int64 = 10 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// ErrorResponse 错误响应结构。detail 与上游 agent 客户端约定一致，
// error 携带结构化错误码。
type ErrorResponse struct {
	Detail    string     `json:"detail"`
	Error     *ErrorInfo `json:"error"`
	RequestID string     `json:"request_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	AgentType string `json:"agent_type,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		body, _ = json.Marshal(ErrorResponse{
			Detail:    "failed to encode response",
			Error:     &ErrorInfo{Code: string(types.ErrInternalError), Message: err.Error()},
			Timestamp: time.Now(),
		})
		status = http.StatusInternalServerError
	}
	writeRawJSON(w, status, body)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError 写入错误响应，状态码由错误码决定
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	status := err.Status()
	requestID, _ := ctxkeys.RequestID(r.Context())

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.String("request_id", requestID),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, status, ErrorResponse{
		Detail: err.Detail(),
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			AgentType: err.AgentType,
			Retryable: err.Retryable,
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// ToError 将任意错误转换为 *types.Error，未知错误视为内部错误
func ToError(err error) *types.Error {
	if te, ok := types.AsError(err); ok {
		return te
	}
	return types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
}

// =============================================================================
// 🛡️ 请求解析
// =============================================================================

// DecodeJSONObject 读取请求体并解析为 JSON 对象，同时返回请求体字节数。
// 请求体不是合法 JSON 对象时返回 MALFORMED_BODY。
func DecodeJSONObject(w http.ResponseWriter, r *http.Request, maxBytes int64) (map[string]any, int, *types.Error) {
	if r.Body == nil {
		return nil, 0, types.NewError(types.ErrMalformedBody, "request body is empty")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, len(data), types.Errorf(types.ErrMalformedBody, "request body exceeds %d bytes", maxBytes).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		return nil, len(data), types.NewError(types.ErrMalformedBody, "failed to read request body").WithCause(err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, 0, types.NewError(types.ErrMalformedBody, "request body is empty")
	}

	// UseNumber 保留大整数精度，原样交给回调
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, len(data), types.NewError(types.ErrMalformedBody, "Invalid JSON in request body").WithCause(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, len(data), types.NewError(types.ErrMalformedBody, "Invalid JSON in request body: trailing data")
	}
	if payload == nil {
		return nil, len(data), types.NewError(types.ErrMalformedBody, "request body must be a JSON object")
	}
	return payload, len(data), nil
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与写入字节数。
// 通过 Unwrap 暴露底层 writer，http.ResponseController 可继续 Flush。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}

// Flush 透传 SSE 刷新
func (rw *ResponseWriter) Flush() { _ = rw.FlushError() }

// FlushError 经 http.ResponseController 逐层 Unwrap 刷新底层连接。
// 刷新会提交默认的 200 状态码。
func (rw *ResponseWriter) FlushError() error {
	rw.Written = true
	return http.NewResponseController(rw.ResponseWriter).Flush()
}

// Unwrap 返回底层 ResponseWriter
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
