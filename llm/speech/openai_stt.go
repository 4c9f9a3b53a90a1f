package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/avatarflow/internal/pool"
	"github.com/BaSui01/avatarflow/internal/tlsutil"
	"github.com/BaSui01/avatarflow/llm/providers"
	"github.com/BaSui01/avatarflow/types"
)

// OpenAISTTProvider 使用 OpenAI Whisper API 执行 STT
type OpenAISTTProvider struct {
	cfg    OpenAISTTConfig
	client *http.Client
}

// NewOpenAISTTProvider 创建新的 OpenAI STT 提供者
func NewOpenAISTTProvider(cfg OpenAISTTConfig) *OpenAISTTProvider {
	def := DefaultOpenAISTTConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &OpenAISTTProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *OpenAISTTProvider) Name() string { return "openai-stt" }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe 上传音频到 /v1/audio/transcriptions
func (p *OpenAISTTProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if req.Audio == nil {
		return nil, types.NewInputError("audio input is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.webm"
	}

	// 构建多部分表单
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	writer := multipart.NewWriter(buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}

	_ = writer.WriteField("model", model)
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	format := req.ResponseFormat
	if format == "" {
		format = "verbose_json"
	}
	_ = writer.WriteField("response_format", format)
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/transcriptions",
		bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.UpstreamError(err, p.Name(), types.ErrTranscription)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name(), types.ErrTranscription)
	}

	result := &STTResponse{
		Provider:  p.Name(),
		Model:     model,
		CreatedAt: time.Now(),
	}

	// response_format=text 时响应体就是转写文本
	if format == "text" {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, providers.UpstreamError(err, p.Name(), types.ErrTranscription)
		}
		result.Text = strings.TrimSpace(string(data))
		return result, nil
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, types.NewError(types.ErrTranscription, "failed to decode whisper response").WithCause(err)
	}
	result.Text = wResp.Text
	result.Language = wResp.Language
	result.Duration = time.Duration(wResp.Duration * float64(time.Second))
	return result, nil
}
