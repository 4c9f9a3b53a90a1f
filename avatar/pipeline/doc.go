// Package pipeline 驱动单个会话的对话轮次：
// 转写（仅音频输入）→ 生成 → 合成 → 渲染 → 交付。
//
// 每个阶段开始前向客户端推送一条进度帧；渲染阶段必须先从 render.Guard
// 取得票据，渲染调用返回后立即释放。对话历史只在轮次进入交付阶段后提交，
// 失败或断开的轮次不会留下半条记录。
//
// 准入策略：会话已有进行中的轮次时，新的输入直接以 SESSION_BUSY 拒绝。
// 所有轮次在有界的 GoroutinePool 上执行，池满时以 RESOURCE_BUSY 拒绝。
package pipeline
