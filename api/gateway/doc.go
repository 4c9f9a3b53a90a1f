// Package gateway 实现交互式数字人的 WebSocket 连接网关。
//
// 每个连接对应一个 session.Session。网关负责：
//   - 接受连接并在注册表中创建会话，首帧发送 connection 帧
//   - 将入站帧分类为控制消息（text_input、config）或二进制音频，交给编排器
//   - 通过每会话一个的出站队列和唯一的写协程保证出站帧顺序
//   - 断开时移除会话并撤回排队中的渲染请求
//
// 写超时、心跳 ping、读大小上限和入站限流均由 Options 配置。
package gateway
