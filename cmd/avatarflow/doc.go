// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AvatarFlow 服务端程序入口。

# 概述

cmd/avatarflow 组装完整的交互式数字人服务：外部转写/生成/合成适配器、
渲染引擎（熔断 + 互斥守卫）、会话注册表、轮次编排器、视频索引与清理，
并通过 HTTP 暴露 WebSocket 网关、视频下载、健康检查与运行时状态。

# 核心类型

  - Server           — 组件装配、HTTP 与 Metrics 双端口、热更新与优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、Metrics、
    OTelTracing、CORS、RateLimiter（基于 IP）、APIKeyAuth / JWTAuth
  - 配置热更新：Reloader 监听配置文件，日志级别与系统提示词即时生效
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止接入 → 关闭所有会话 → 撤回渲染排队 →
    等待轮次 → 关闭索引 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
