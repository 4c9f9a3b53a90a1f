package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/avatarflow/avatar/pipeline"
	"github.com/BaSui01/avatarflow/avatar/session"
	"github.com/BaSui01/avatarflow/llm/video"
	"github.com/BaSui01/avatarflow/types"
)

// Inbound control frame types.
const (
	FrameTextInput = "text_input"
	FrameConfig    = "config"
)

// Inbound frame kinds used for metrics.
const (
	kindAudio   = "audio"
	kindInvalid = "invalid"
)

// controlFrame 入站 JSON 控制帧。未知字段忽略
type controlFrame struct {
	Type           string  `json:"type"`
	Text           string  `json:"text"`
	Prompt         *string `json:"prompt,omitempty"`
	ReferenceImage *string `json:"reference_image,omitempty"`
	Language       *string `json:"language,omitempty"`
}

// parseControlFrame decodes a text frame. Malformed JSON, unknown types and
// reference images that are not plain file names are INPUT_ERROR.
func parseControlFrame(data []byte) (controlFrame, error) {
	var f controlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, types.NewInputError("Invalid JSON message").WithCause(err)
	}
	f.Type = strings.TrimSpace(f.Type)
	switch f.Type {
	case FrameTextInput, FrameConfig:
		// 参考图只接受纯文件名，由编排器解析到配置的图片目录
		if f.ReferenceImage != nil && *f.ReferenceImage != "" && !video.IsSafeName(*f.ReferenceImage) {
			return f, types.NewInputError(fmt.Sprintf("Invalid reference image %q", *f.ReferenceImage))
		}
		return f, nil
	case "":
		return f, types.NewInputError("Message type is required")
	default:
		return f, types.NewInputError(fmt.Sprintf("Unknown message type %q", f.Type))
	}
}

// input converts a text_input frame into a pipeline input with optional
// turn-level overrides.
func (f controlFrame) input() pipeline.Input {
	in := pipeline.TextInput(f.Text)
	if f.Prompt != nil {
		in.Prompt = *f.Prompt
	}
	if f.ReferenceImage != nil {
		in.ReferenceImage = *f.ReferenceImage
	}
	return in
}

func (f controlFrame) settings() session.SettingsPatch {
	return session.SettingsPatch{
		Prompt:         f.Prompt,
		ReferenceImage: f.ReferenceImage,
		Language:       f.Language,
	}
}
