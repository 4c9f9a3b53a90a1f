/*
Package video 定义头像视频渲染引擎接口及其实现。

# 概述

渲染引擎是有状态、绑定单块 GPU 的黑盒，一次只能执行一个渲染。
本包只负责“如何调用引擎”，串行化由 avatar/render.Guard 负责。

# 实现

  - HTTPRenderer     — 调用常驻 GPU 的推理 sidecar（GET /health, POST /render）
  - CommandRenderer  — 通过 exec.CommandContext 运行本地推理脚本
  - BreakerRenderer  — 熔断装饰器，引擎连续失败后快速失败

所有失败均返回 types.ErrRender 错误码。
*/
package video
