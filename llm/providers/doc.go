// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供各外部后端客户端（文本生成、语音识别、语音合成）共享的
HTTP 错误映射，是 openaicompat 与 speech 子包的公共基础层。

# 核心函数

  - MapHTTPError — 将上游 HTTP 状态码映射为带阶段错误码的 types.Error（429/5xx 可重试）
  - UpstreamError — 网络层失败（连接拒绝、读超时）的标准错误，可重试
  - ReadErrorMessage — 解析 OpenAI 风格 error.message 或 ElevenLabs 风格 detail
*/
package providers
