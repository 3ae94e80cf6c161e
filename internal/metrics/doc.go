// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的调度核心指标采集能力，覆盖
dispatch、breaker、retry、stream 四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按调度维度分组管理。

# 主要能力

  - dispatch 指标：请求总数与耗时，按 provider/kind/outcome 分组。
  - breaker 指标：状态迁移计数，按 provider/from/to 分组。
  - retry 指标：终态前尝试次数分布，按 provider 分组。
  - stream 指标：已投递的流式分片计数，按 provider 分组。
*/
package metrics
