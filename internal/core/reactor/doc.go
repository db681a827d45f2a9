// Package reactor 实现单协程事件循环与连接 I/O
//
// Dispatcher 在一个锁定 OS 线程的协程上运行轮询循环（Linux 上为 epoll），
// 每一轮：
//  1. 以有限超时等待就绪事件
//  2. 执行所有已提交的任务
//  3. 逐个分发读/写就绪事件
//
// 单个连接上的 I/O 失败只关闭该连接，不会终止事件循环。
// 循环退出后，仍在排队的任务以 ErrReactorClosed 失败。
//
// Endpoint 把一对 fd 接入 Dispatcher：读就绪时读取到 buffer.Buffer 并交给 Receiver，
// 写就绪时排空 WriteQueue。WriteQueue 以字节容量实现背压，是唯一的流控手段。
//
// # 使用示例
//
//	d, err := reactor.NewDispatcher(reactor.DefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	ep, err := d.Attach("peer", conn)
//	if err != nil {
//	    return err
//	}
//	ep.SetReceiver(func(buf *buffer.Buffer) {
//	    handle(buf.View())
//	    buf.Consume(buf.Len())
//	})
//	ep.Write([]byte("hello"))
package reactor
