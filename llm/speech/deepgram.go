package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/avatarflow/internal/tlsutil"
	"github.com/BaSui01/avatarflow/llm/providers"
	"github.com/BaSui01/avatarflow/types"
)

// DeepgramProvider 使用 Deepgram API 执行 STT
type DeepgramProvider struct {
	cfg    DeepgramConfig
	client *http.Client
}

// NewDeepgramProvider 创建新的 Deepgram STT 提供者
func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	def := DefaultDeepgramConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &DeepgramProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

type deepgramResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language,omitempty"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe 直接上传原始音频到 /v1/listen
func (p *DeepgramProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if req.Audio == nil {
		return nil, types.NewInputError("audio input is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	params := url.Values{}
	params.Set("model", model)
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	if req.Language != "" {
		params.Set("language", req.Language)
	} else {
		params.Set("detect_language", "true")
	}

	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(p.cfg.BaseURL, "/"), params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, req.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.UpstreamError(err, p.Name(), types.ErrTranscription)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name(), types.ErrTranscription)
	}

	var dResp deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, types.NewError(types.ErrTranscription, "failed to decode deepgram response").WithCause(err)
	}

	result := &STTResponse{
		Provider:  p.Name(),
		Model:     model,
		Duration:  time.Duration(dResp.Metadata.Duration * float64(time.Second)),
		CreatedAt: time.Now(),
	}

	// 取第一个声道的最佳候选
	if len(dResp.Results.Channels) > 0 {
		ch := dResp.Results.Channels[0]
		result.Language = ch.DetectedLanguage
		if len(ch.Alternatives) > 0 {
			result.Text = ch.Alternatives[0].Transcript
			result.Confidence = ch.Alternatives[0].Confidence
		}
	}
	return result, nil
}
