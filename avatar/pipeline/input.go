package pipeline

// InputKind 输入来源
type InputKind string

const (
	InputText  InputKind = "text"
	InputAudio InputKind = "audio"
)

// Input 一次用户输入。Prompt / ReferenceImage 为空时使用会话或全局默认值。
type Input struct {
	Kind           InputKind
	Text           string
	Audio          []byte
	Prompt         string
	ReferenceImage string
}

// TextInput 直接文本输入，跳过转写
func TextInput(text string) Input {
	return Input{Kind: InputText, Text: text}
}

// AudioInput 原始音频输入
func AudioInput(audio []byte) Input {
	return Input{Kind: InputAudio, Audio: audio}
}
