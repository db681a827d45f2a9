package metrics

// Stats 传输层流量快照
//
// TotalIn 和 TotalOut 记录累计读取/写出的字节数，
// RateIn 和 RateOut 为最近 60 秒的平均速率（字节/秒）。
type Stats struct {
	TotalIn  int64
	TotalOut int64
	RateIn   float64
	RateOut  float64

	// Connections 当前注册在 reactor 上的连接数
	Connections int64

	// OpenPipes 当前所有会话中未关闭的管道数
	OpenPipes int64
}
