package codec

import "fmt"

// Kind 消息类型
type Kind uint8

const (
	// KindOpen 打开管道并调用方法
	KindOpen Kind = 0
	// KindClose 关闭管道，携带结果或错误
	KindClose Kind = 1
	// KindBlock 管道上的一段二进制数据
	KindBlock Kind = 2
)

// String 返回消息类型名称
func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindBlock:
		return "block"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message Open、Close、Block 三种消息之一
type Message interface {
	Kind() Kind
	PipeID() uint32
}

// Open 打开管道：pipe 上调用 method，参数为 Params
type Open struct {
	Pipe   uint32
	Method uint16
	Params []any
}

// Close 关闭管道
//
// Error 非空表示调用失败，此时 Result 为 nil。
type Close struct {
	Pipe   uint32
	Result any
	Error  string
}

// Block 管道上的一段数据
type Block struct {
	Pipe uint32
	Data []byte
}

// Kind 实现 Message
func (*Open) Kind() Kind { return KindOpen }

// PipeID 实现 Message
func (m *Open) PipeID() uint32 { return m.Pipe }

// Kind 实现 Message
func (*Close) Kind() Kind { return KindClose }

// PipeID 实现 Message
func (m *Close) PipeID() uint32 { return m.Pipe }

// Failed Close 是否携带错误
func (m *Close) Failed() bool { return m.Error != "" }

// Kind 实现 Message
func (*Block) Kind() Kind { return KindBlock }

// PipeID 实现 Message
func (m *Block) PipeID() uint32 { return m.Pipe }

func (m *Open) String() string {
	return fmt.Sprintf("Open(pipe=%#08x, method=%d, params=%d)", m.Pipe, m.Method, len(m.Params))
}

func (m *Close) String() string {
	if m.Failed() {
		return fmt.Sprintf("Close(pipe=%#08x, error=%q)", m.Pipe, m.Error)
	}
	return fmt.Sprintf("Close(pipe=%#08x, result=%T)", m.Pipe, m.Result)
}

func (m *Block) String() string {
	return fmt.Sprintf("Block(pipe=%#08x, %d bytes)", m.Pipe, len(m.Data))
}
