/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、会话、流水线轮次、渲染引擎与产物清理五个维度。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 会话指标：活跃会话 Gauge、会话总数、会话时长，以及按方向/类型统计的帧数。
  - 轮次指标：按 source(audio/text) 与 outcome 统计的轮次数、端到端耗时、
    各阶段耗时。
  - 渲染指标：等待队列深度、等待耗时（granted/abandoned）、渲染耗时与结果。
  - 产物指标：保留期清理删除的视频数量。

NewCollectorWithRegistry 允许注册到独立的 Registry，
测试与 /metrics 服务使用同一 Registry 即可隔离全局状态。
*/
package metrics
