package metrics

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace 所有指标的命名空间前缀
const Namespace = "irpc"

// Reporter 传输层指标上报接口
//
// reactor 上报字节与连接数，session 上报帧、管道与调用。
// 所有方法必须并发安全且不得阻塞调用方。
type Reporter interface {
	// LogBytesRead 记录从连接读取的字节数
	LogBytesRead(n int)

	// LogBytesWritten 记录写入连接的字节数
	LogBytesWritten(n int)

	// ConnectionOpened 连接注册到 reactor
	ConnectionOpened()

	// ConnectionClosed 连接从 reactor 注销
	ConnectionClosed()

	// LogFrameSent 记录发送的帧
	LogFrameSent(kind string, size int)

	// LogFrameReceived 记录接收的帧
	LogFrameReceived(kind string, size int)

	// PipeOpened 管道进入管道表
	PipeOpened()

	// PipeClosed 管道离开管道表
	PipeClosed()

	// LogProtocolViolation 记录导致连接关闭的协议错误
	LogProtocolViolation()

	// LogInvocation 记录一次入站调用的耗时与结果
	LogInvocation(method uint16, elapsed time.Duration, failed bool)

	// Snapshot 返回流量快照
	Snapshot() Stats
}

var (
	_ Reporter = (*Collector)(nil)
	_ Reporter = NopReporter{}
)

// Collector 基于 prometheus 的 Reporter 实现
type Collector struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	frameBytes     *prometheus.HistogramVec
	bytesRead      prometheus.Counter
	bytesWritten   prometheus.Counter
	connections    prometheus.Gauge
	openPipes      prometheus.Gauge
	violations     prometheus.Counter
	invocations    *prometheus.HistogramVec

	rateIn  *RateMeter
	rateOut *RateMeter

	numConns atomic.Int64
	numPipes atomic.Int64
}

// NewCollector 创建 Collector 并注册到 reg
//
// reg 为 nil 时使用独立的 prometheus.Registry。
// 同一 reg 上重复创建时复用已注册的指标。
func NewCollector(reg prometheus.Registerer, clk clock.Clock) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_sent_total",
			Help:      "Frames enqueued for sending, by message kind.",
		}, []string{"kind"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from connections, by message kind.",
		}, []string{"kind"}),
		frameBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "frame_size_bytes",
			Help:      "Encoded frame sizes, by direction.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 7),
		}, []string{"direction"}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "read_bytes_total",
			Help:      "Bytes read from connections.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "written_bytes_total",
			Help:      "Bytes written to connections.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections",
			Help:      "Connections registered with a reactor.",
		}),
		openPipes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "open_pipes",
			Help:      "Pipes currently present in session pipe tables.",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "protocol_violations_total",
			Help:      "Protocol violations that closed a connection.",
		}),
		invocations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Inbound call handler latency, by method and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
		rateIn:  NewRateMeter(clk),
		rateOut: NewRateMeter(clk),
	}

	if err := c.register(reg); err != nil {
		return nil, err
	}
	return c, nil
}

// register 注册全部指标，已存在的同名指标直接复用
func (c *Collector) register(reg prometheus.Registerer) error {
	var err error
	if c.framesSent, err = registerOrReuse(reg, c.framesSent); err != nil {
		return err
	}
	if c.framesReceived, err = registerOrReuse(reg, c.framesReceived); err != nil {
		return err
	}
	if c.frameBytes, err = registerOrReuse(reg, c.frameBytes); err != nil {
		return err
	}
	if c.bytesRead, err = registerOrReuse(reg, c.bytesRead); err != nil {
		return err
	}
	if c.bytesWritten, err = registerOrReuse(reg, c.bytesWritten); err != nil {
		return err
	}
	if c.connections, err = registerOrReuse(reg, c.connections); err != nil {
		return err
	}
	if c.openPipes, err = registerOrReuse(reg, c.openPipes); err != nil {
		return err
	}
	if c.violations, err = registerOrReuse(reg, c.violations); err != nil {
		return err
	}
	c.invocations, err = registerOrReuse(reg, c.invocations)
	return err
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return col, err
}

// LogBytesRead 实现 Reporter
func (c *Collector) LogBytesRead(n int) {
	c.bytesRead.Add(float64(n))
	c.rateIn.Add(int64(n))
}

// LogBytesWritten 实现 Reporter
func (c *Collector) LogBytesWritten(n int) {
	c.bytesWritten.Add(float64(n))
	c.rateOut.Add(int64(n))
}

// ConnectionOpened 实现 Reporter
func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
	c.numConns.Add(1)
}

// ConnectionClosed 实现 Reporter
func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
	c.numConns.Add(-1)
}

// LogFrameSent 实现 Reporter
func (c *Collector) LogFrameSent(kind string, size int) {
	c.framesSent.WithLabelValues(kind).Inc()
	c.frameBytes.WithLabelValues("out").Observe(float64(size))
}

// LogFrameReceived 实现 Reporter
func (c *Collector) LogFrameReceived(kind string, size int) {
	c.framesReceived.WithLabelValues(kind).Inc()
	c.frameBytes.WithLabelValues("in").Observe(float64(size))
}

// PipeOpened 实现 Reporter
func (c *Collector) PipeOpened() {
	c.openPipes.Inc()
	c.numPipes.Add(1)
}

// PipeClosed 实现 Reporter
func (c *Collector) PipeClosed() {
	c.openPipes.Dec()
	c.numPipes.Add(-1)
}

// LogProtocolViolation 实现 Reporter
func (c *Collector) LogProtocolViolation() {
	c.violations.Inc()
}

// LogInvocation 实现 Reporter
func (c *Collector) LogInvocation(method uint16, elapsed time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.invocations.WithLabelValues(strconv.Itoa(int(method)), outcome).Observe(elapsed.Seconds())
}

// Snapshot 实现 Reporter
func (c *Collector) Snapshot() Stats {
	return Stats{
		TotalIn:     c.rateIn.Total(),
		TotalOut:    c.rateOut.Total(),
		RateIn:      c.rateIn.Rate(),
		RateOut:     c.rateOut.Rate(),
		Connections: c.numConns.Load(),
		OpenPipes:   c.numPipes.Load(),
	}
}

// NopReporter 丢弃所有指标
type NopReporter struct{}

func (NopReporter) LogBytesRead(int)                          {}
func (NopReporter) LogBytesWritten(int)                       {}
func (NopReporter) ConnectionOpened()                         {}
func (NopReporter) ConnectionClosed()                         {}
func (NopReporter) LogFrameSent(string, int)                  {}
func (NopReporter) LogFrameReceived(string, int)              {}
func (NopReporter) PipeOpened()                               {}
func (NopReporter) PipeClosed()                               {}
func (NopReporter) LogProtocolViolation()                     {}
func (NopReporter) LogInvocation(uint16, time.Duration, bool) {}
func (NopReporter) Snapshot() Stats                           { return Stats{} }

// OrNop 将 nil Reporter 替换为 NopReporter
func OrNop(r Reporter) Reporter {
	if r == nil {
		return NopReporter{}
	}
	return r
}
