// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AvatarFlow 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 avatar、llm、api
等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message           — 对话条目（Role + Content）
  - Stage             — turn 流水线阶段及合法迁移表
  - Event             — 出站帧（connection / status / transcription / response / video_ready / error）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithSessionID / WithTurnID
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
*/
package types
