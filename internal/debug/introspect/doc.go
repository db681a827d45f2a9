// Package introspect 提供本地自省 HTTP 服务
//
// 该服务运行在本地端口，提供 JSON 格式的诊断信息，用于调试和监控。
// 默认绑定到 127.0.0.1，不暴露到网络。
//
// # 端点
//
//	GET /debug/introspect           - 完整诊断报告 (JSON)
//	GET /debug/introspect/transport - 流量、连接与管道统计
//	GET /debug/introspect/sessions  - 存活会话列表
//	GET /debug/introspect/runtime   - Go 运行时信息
//	GET /metrics                    - Prometheus 指标
//	GET /debug/pprof/*              - Go pprof 端点
//	GET /health                     - 健康检查
//
// # 使用示例
//
//	server := introspect.New(introspect.Config{
//	    Addr:     "127.0.0.1:6060",
//	    Reporter: reporter,
//	    Sessions: irpcCtx,
//	})
//	server.Start(ctx)
//	defer server.Stop()
//
// 通过 config.Diagnostics.EnableIntrospect 启用 Fx 模块。
package introspect
