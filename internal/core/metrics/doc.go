// Package metrics 提供传输层监控指标
//
// Reporter 由 reactor 与 session 共同使用：
//   - 字节计数与速率（读/写，60 秒滑动窗口）
//   - 已注册连接数、打开的管道数
//   - 按消息类型统计的帧数与帧大小分布
//   - 协议错误次数、入站调用耗时
//
// Collector 将指标注册到 prometheus.Registerer，NopReporter 丢弃所有指标。
//
// # 快速开始
//
//	reg := prometheus.NewRegistry()
//	reporter, err := metrics.NewCollector(reg, nil)
//	if err != nil {
//	    return err
//	}
//	reporter.LogBytesRead(1024)
//	stats := reporter.Snapshot()
//
// # Fx 模块
//
//	app := fx.New(
//	    metrics.Module,
//	    fx.Invoke(func(r metrics.Reporter) { ... }),
//	)
package metrics
