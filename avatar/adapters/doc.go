/*
包 adapters 是流水线与外部后端之间的统一门面。

  - Transcription：音频字节 → 文本（TRANSCRIPTION_ERROR）
  - Generation：系统提示 + 历史 + 用户文本 → 回复文本（GENERATION_ERROR），支持流式
  - Synthesis：回复文本 → 临时音频文件 Artifact（SYNTHESIS_ERROR），支持流式

三者都是无状态的按次调用，可以在多个会话之间并发使用。
可重试的上游错误（429、5xx、网络错误）由 llm/retry 按策略退避重试。
*/
package adapters
