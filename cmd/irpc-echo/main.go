// Package main 提供 irpc 回显服务的命令行入口
//
// 服务端：
//
//	irpc-echo -mode server -addr 127.0.0.1:7000
//
// 客户端：
//
//	irpc-echo -mode client -addr 127.0.0.1:7000 -text hello -blocks 10240
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	irpc "github.com/dep2p/go-irpc"
	"github.com/dep2p/go-irpc/config"
	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("irpc/cmd")

// 回显服务的方法 ID
const (
	methodEcho    uint16 = 10
	methodReverse uint16 = 11
	methodStream  uint16 = 12
)

var (
	mode           = flag.String("mode", "server", "运行模式 (server/client)")
	network        = flag.String("network", "tcp", "网络类型 (tcp/unix)")
	addr           = flag.String("addr", "127.0.0.1:7000", "监听或连接地址")
	configFile     = flag.String("config", "", "配置文件路径（JSON）")
	preset         = flag.String("preset", "", "预设配置 (default/server/minimal/test)")
	introspectAddr = flag.String("introspect", "", "自省与 Prometheus 指标服务地址，空表示不开启")
	text           = flag.String("text", "hello", "客户端回显的文本")
	blocks         = flag.Int("blocks", 10240, "客户端流式回显的块数（每块 1 字节）")
	debug          = flag.Bool("debug", false, "输出全部调试日志，覆盖 IRPC_LOG_LEVEL")
	showVersion    = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(irpc.VersionInfo())
		return nil
	}
	log.SetupFromEnv(os.Stderr)
	if *debug {
		log.SetLevel(slog.LevelDebug)
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := irpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = c.Close() }()

	switch *mode {
	case "server":
		return runServer(ctx, c)
	case "client":
		return runClient(ctx, c)
	default:
		return fmt.Errorf("未知模式: %s", *mode)
	}
}

// buildOptions 构建选项
//
// 配置优先级：配置文件 > 环境变量或命令行指定的预设 > 默认值
func buildOptions() ([]irpc.Option, error) {
	cfg := config.NewConfig()

	name := *preset
	if name == "" {
		name = os.Getenv(envPreset)
	}
	if name != "" {
		p, ok := irpc.PresetByName(name)
		if !ok {
			return nil, fmt.Errorf("未知预设: %s", name)
		}
		p.Apply(cfg)
	}

	if *configFile != "" {
		fileCfg, err := loadConfigFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = fileCfg
	}

	// 自省服务同时提供 /metrics
	if *introspectAddr != "" {
		cfg.Diagnostics.EnableIntrospect = true
		cfg.Diagnostics.IntrospectAddr = *introspectAddr
		cfg.Metrics.Enabled = true
	}
	return []irpc.Option{irpc.WithConfig(cfg)}, nil
}

func echoService() *irpc.Service {
	svc := irpc.NewService("echo")
	svc.MustRegister(methodEcho, "echo", func(_ context.Context, call *irpc.Call) (any, error) {
		s, err := irpc.Param[string](call, 0)
		logger.Debug("echo", "text", s)
		return s, err
	})
	svc.MustRegister(methodReverse, "reverse", func(_ context.Context, call *irpc.Call) (any, error) {
		s, err := irpc.Param[string](call, 0)
		if err != nil {
			return nil, err
		}
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	})
	svc.MustRegister(methodStream, "stream", func(_ context.Context, call *irpc.Call) (any, error) {
		n, err := io.Copy(call.Pipe.Writer(), call.Pipe.Reader())
		logger.Debug("stream", "pipe", call.Pipe.ID(), "bytes", n)
		return nil, err
	})
	return svc
}

func runServer(ctx context.Context, c *irpc.Context) error {
	ln, err := c.Listen(*network, *addr, echoService(), func(s *irpc.Session) {
		logger.Info("新会话", "session", s.Name(), "id", s.ID())
	})
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	defer func() { _ = ln.Close() }()

	fmt.Printf("%s 正在监听 %s/%s，按 Ctrl+C 退出\n", irpc.VersionInfo(), *network, ln.Addr())
	select {
	case <-ctx.Done():
	case <-ln.Done():
		return ln.Err()
	}
	fmt.Println("\n正在关闭...")
	return nil
}

func runClient(ctx context.Context, c *irpc.Context) error {
	s, err := c.Dial(ctx, *network, *addr, nil)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer func() { _ = s.Close() }()

	echo := s.Interface(irpc.NewInterface("echo").
		Method("echo", methodEcho).
		Method("reverse", methodReverse))

	got, err := irpc.Invoke[string](ctx, echo, "echo", *text)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	fmt.Printf("echo(%q) = %q\n", *text, got)

	got, err = irpc.Invoke[string](ctx, echo, "reverse", *text)
	if err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	fmt.Printf("reverse(%q) = %q\n", *text, got)

	if *blocks > 0 {
		start := time.Now()
		if err := streamEcho(s, *blocks); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		fmt.Printf("stream: %d 块往返用时 %s\n", *blocks, time.Since(start))
	}

	stats := c.Stats()
	fmt.Printf("发送 %d 字节，接收 %d 字节\n", stats.TotalOut, stats.TotalIn)
	return nil
}

// streamEcho 逐字节发送 n 个数据块并校验回显
func streamEcho(s *irpc.Session, n int) error {
	p, err := s.Open(methodStream)
	if err != nil {
		return err
	}

	want := make([]byte, n)
	for i := range want {
		want[i] = byte(i % 256)
	}

	errc := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := p.SendBlock(want[i : i+1]); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	got := make([]byte, n)
	if _, err := io.ReadFull(p.Reader(), got); err != nil {
		return err
	}
	if err := <-errc; err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return errors.New("回显数据不一致")
	}
	if err := p.Close(nil); err != nil {
		return err
	}
	_, err = p.WaitForClose(time.Second)
	return err
}
