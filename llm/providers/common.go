// Package providers 提供各后端客户端共享的 HTTP 错误映射。
package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/avatarflow/types"
)

// MapHTTPError 把上游 HTTP 状态映射为带错误码的 types.Error。
// code 是该后端所属阶段的错误码（GENERATION_ERROR、SYNTHESIS_ERROR 等）；
// 429 与 5xx 标记为可重试。
func MapHTTPError(status int, msg string, provider string, code types.ErrorCode) *types.Error {
	err := types.NewError(code, fmt.Sprintf("%s error: status=%d msg=%s", provider, status, msg)).
		WithHTTPStatus(status).
		WithProvider(provider)

	switch {
	case status == http.StatusTooManyRequests:
		return err.WithRetryable(true)
	case status >= 500:
		return err.WithRetryable(true)
	default:
		return err
	}
}

// UpstreamError 网络层失败（连接拒绝、读超时），可重试
func UpstreamError(cause error, provider string, code types.ErrorCode) *types.Error {
	return types.NewError(code, fmt.Sprintf("%s request failed", provider)).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider)
}

// ReadErrorMessage 读取错误响应体，优先解析 OpenAI 风格的 error.message
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Detail any `json:"detail"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Detail != nil {
			return fmt.Sprint(errResp.Detail)
		}
	}

	return string(data)
}
