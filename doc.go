// Package irpc 提供多路复用的异步 RPC 传输
//
// 多个独立的逻辑调用（管道）共享一条字节连接。单个事件循环协程
// 处理所有连接的读写就绪，入站调用交给执行器运行。
//
// # 核心概念
//
//   - Context: 运行环境，持有事件循环、执行器、编解码器与指标
//   - Session: 一条连接上的管道多路复用
//   - Pipe: 一次调用或一条数据流，以 Open 开始、以 Close 结束
//   - Service: 方法 ID 到处理函数的分派表
//   - Proxy: 调用方视角的远程接口
//
// # 快速开始
//
//	c, err := irpc.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	// 服务端
//	svc := irpc.NewService("echo")
//	svc.MustRegister(10, "echo", func(ctx context.Context, call *irpc.Call) (any, error) {
//	    return irpc.Param[string](call, 0)
//	})
//	ln, err := c.Listen("tcp", "127.0.0.1:7000", svc, nil)
//
//	// 客户端
//	s, err := c.Dial(ctx, "tcp", "127.0.0.1:7000", nil)
//	echo := s.Interface(irpc.NewInterface("echo").Method("echo", 10))
//	text, err := irpc.Invoke[string](ctx, echo, "echo", "hello")
//
// # 流式调用
//
// 处理函数通过 call.Pipe（或 PipeFromContext）取得管道，
// 用 Pipe.Reader 与 Pipe.Writer 收发数据块：
//
//	svc.MustRegister(12, "stream", func(ctx context.Context, call *irpc.Call) (any, error) {
//	    _, err := io.Copy(call.Pipe.Writer(), call.Pipe.Reader())
//	    return nil, err
//	})
//
// # 文件组织
//
//   - irpc.go: 版本信息与类型别名
//   - context.go: Context 与 SessionBuilder
//   - listener.go: Listener 与 Dial
//   - fx.go: Fx 模块
//   - options.go / presets.go: 配置选项与预设
//   - errors.go: 公共错误
package irpc
