// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供 Start/Shutdown、
    异步错误通道 Errors() 与实际监听地址 BoundAddr()。
  - Config：监听地址、请求头读取超时、空闲超时、最大请求头大小、
    优雅关闭超时与可选 TLS 配置。

AvatarFlow 同时运行两个 Manager：主服务（WebSocket 网关、视频下载、健康检查）
与独立端口上的 Prometheus metrics 服务。主服务不设置整体读写超时，
因为 WebSocket 连接会持续数分钟。
*/
package server
