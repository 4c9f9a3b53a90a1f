/*
Package testutil 提供 AvatarFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 事件录制: EventRecorder 实现会话出站 Sink，记录每个帧以便断言顺序
  - 数据工具: MustJSON / MustParseJSON / CollectStreamContent

# 子包

  - testutil/mocks: 外部协作者的脚本化替身，包括 MockProvider（文本生成）、
    MockSTT / MockTTS（语音）与 MockRenderer（渲染引擎，可阻塞、计数并发）

# 使用示例

	ctx := testutil.TestContext(t)
	rec := testutil.NewEventRecorder()
	sess := registry.Create(ctx, rec)
	...
	testutil.AssertEventuallyTrue(t, func() bool { return rec.Has(types.EventVideoReady) }, 2*time.Second)
*/
package testutil
