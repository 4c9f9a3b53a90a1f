// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AvatarFlow HTTP 端点的请求处理器实现。

# 概述

WebSocket 网关之外的所有 HTTP 端点都在这里：健康检查、视频下载、
运行时状态，以及统一的响应/错误处理。所有 Handler 遵循标准
net/http 接口。

# 核心类型

  - HealthHandler    — /health（各服务初始化状态）、/healthz、/ready、/version
  - VideoHandler     — /video/{filename}，只允许输出目录内的普通文件名
  - StatsHandler     — /api/v1/stats，会话、渲染队列、轮次工作池与视频索引
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码，支持 Hijack
  - HealthCheck      — 可插拔健康检查接口（Redis、渲染引擎等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - /ready 并发执行检查项，任一服务未初始化即返回 503
*/
package handlers
