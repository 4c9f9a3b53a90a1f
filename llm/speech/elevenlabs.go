package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/avatarflow/internal/tlsutil"
	"github.com/BaSui01/avatarflow/llm/providers"
	"github.com/BaSui01/avatarflow/types"
)

// ElevenLabsProvider 使用 ElevenLabs API 执行 TTS
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabsProvider 创建新的 ElevenLabs TTS 供应商
func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	def := DefaultElevenLabsConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = def.VoiceID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &ElevenLabsProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

type elevenLabsTTSRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize 调用 /v1/text-to-speech/{voice_id}/stream，音频以流返回
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	voiceID := req.Voice
	if voiceID == "" {
		voiceID = p.cfg.VoiceID
	}

	payload, _ := json.Marshal(elevenLabsTTSRequest{Text: req.Text, ModelID: model})
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", strings.TrimRight(p.cfg.BaseURL, "/"), voiceID)

	format := req.ResponseFormat
	if format == "" || format == "mp3" {
		format = "mp3_44100_128"
	}
	endpoint += "?output_format=" + format

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.UpstreamError(err, p.Name(), types.ErrSynthesis)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name(), types.ErrSynthesis)
	}

	return &TTSResponse{
		Provider:  p.Name(),
		Model:     model,
		Audio:     resp.Body,
		Format:    "mp3",
		CharCount: len(req.Text),
		CreatedAt: time.Now(),
	}, nil
}
