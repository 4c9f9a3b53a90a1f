/*
包 speech 提供统一的语音合成 (TTS) 与语音识别 (STT) 接入层。

# 核心接口

  - STTProvider：Transcribe(ctx, *STTRequest)，失败返回 TRANSCRIPTION_ERROR
  - TTSProvider：Synthesize(ctx, *TTSRequest)，音频以流返回，失败返回 SYNTHESIS_ERROR

# 实现

  - OpenAISTTProvider：Whisper /v1/audio/transcriptions（multipart 上传）
  - DeepgramProvider：Deepgram /v1/listen（原始音频上传）
  - OpenAITTSProvider：OpenAI /v1/audio/speech
  - ElevenLabsProvider：ElevenLabs /v1/text-to-speech/{voice}/stream

上游 429 与 5xx 错误标记为可重试，由 llm/retry 负责退避重试。
*/
package speech
