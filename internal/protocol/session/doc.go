// Package session 在一条连接上多路复用管道
//
// 管道是一次逻辑调用或一条数据流，由 32 位 ID 标识，最高位标记创建方
// （主动方为 0，被动方为 1）。线上只有三种消息：
//   - Open：创建管道并调用对端方法
//   - Block：管道上的一段二进制数据
//   - Close：终止管道，携带结果或错误信息
//
// 调用方通过 Session.Open 或 Session.Interface 发起调用；
// 服务方通过 Service 按方法 ID 分派，处理函数在 Executor 上运行，
// 完成后无论成功与否都回送一个 Close。
//
// 会话关闭时未完成的管道被放弃，不发送 Close 帧。
package session
