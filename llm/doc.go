/*
Package llm 定义文本生成后端的统一接口。

子包：

  - providers/openaicompat — OpenAI 兼容的 /v1/chat/completions 实现（同步 + SSE 流式）
  - speech                 — 语音识别（Whisper）与语音合成（OpenAI TTS、ElevenLabs）
  - video                  — 头像视频渲染引擎
  - retry                  — 指数退避重试
  - circuitbreaker         — 熔断器
*/
package llm
