// Package codec 实现管道协议的线上编码
//
// 帧格式（多字节整数为大端序）：
//
//	kind:u8 | pipe:u32 | 消息体
//	Open  消息体: method:u16 | 类型化列表（参数）
//	Close 消息体: 类型化值（结果） | 类型化字符串或 null（错误信息）
//	Block 消息体: 类型化二进制
//
// 类型化值 = 1 字节类型标记 + msgpack 值体。
// 帧没有长度前缀，Decode 遇到不完整的帧时返回 (nil, nil) 等待更多数据。
// 单帧最大 MaxFrameSize 字节。
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dep2p/go-irpc/internal/core/buffer"
	"github.com/dep2p/go-irpc/pkg/lib/log"
)

var logger = log.Logger("protocol/codec")

const (
	// MaxFrameSize 单个编码帧的最大字节数
	MaxFrameSize = 65535

	// headerSize kind + pipe
	headerSize = 5

	// MaxBlockData 单个 Block 帧可携带的最大数据量
	//
	// 头部 5 字节 + 类型标记 1 字节 + msgpack bin16 头 3 字节。
	MaxBlockData = MaxFrameSize - headerSize - 1 - 3
)

// Codec 无状态的帧编解码器，可被多个会话并发使用
type Codec struct{}

// New 创建编解码器
func New() *Codec {
	return &Codec{}
}

// Encode 编码一条消息
//
// 值不能编码或结果超过 MaxFrameSize 时返回 ErrEncoding。
func (c *Codec) Encode(m Message) ([]byte, error) {
	var b bytes.Buffer
	b.Grow(64)

	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&b)
	ve := &valueEncoder{buf: &b, enc: enc}

	var hdr [headerSize]byte
	hdr[0] = byte(m.Kind())
	binary.BigEndian.PutUint32(hdr[1:], m.PipeID())
	b.Write(hdr[:])

	var err error
	switch m := m.(type) {
	case *Open:
		var method [2]byte
		binary.BigEndian.PutUint16(method[:], m.Method)
		b.Write(method[:])
		params := m.Params
		if params == nil {
			params = []any{}
		}
		err = ve.encode(params, 0)
	case *Close:
		if err = ve.encode(m.Result, 0); err == nil {
			err = encodeOptionalString(ve, m.Error)
		}
	case *Block:
		err = ve.encode(m.Data, 0)
	default:
		return nil, fmt.Errorf("%w: unknown message type %T", ErrEncoding, m)
	}
	if err != nil {
		if errors.Is(err, ErrEncoding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	if b.Len() > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrEncoding, b.Len(), MaxFrameSize)
	}
	return b.Bytes(), nil
}

func encodeOptionalString(ve *valueEncoder, s string) error {
	if s == "" {
		ve.tag(TagString)
		return ve.enc.EncodeNil()
	}
	return ve.encode(s, 0)
}

// Decode 从 buf 头部解码一条完整的消息
//
// 数据不足一帧时返回 (nil, nil) 且不消费任何字节；成功时恰好消费该帧的字节。
// 格式错误返回 ErrProtocolViolation。
func (c *Codec) Decode(buf *buffer.Buffer) (Message, error) {
	m, n, err := c.DecodeBytes(buf.View())
	if err != nil || m == nil {
		return nil, err
	}
	buf.Consume(n)
	return m, nil
}

// DecodeBytes 从 p 头部解码一条消息，返回消息与其占用的字节数
func (c *Codec) DecodeBytes(p []byte) (Message, int, error) {
	m, n, err := decodeFrame(p)
	if err == nil {
		return m, n, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if len(p) >= MaxFrameSize {
			return nil, 0, fmt.Errorf("%w: incomplete frame already %d bytes", ErrProtocolViolation, len(p))
		}
		return nil, 0, nil
	}
	if !errors.Is(err, ErrProtocolViolation) {
		err = fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	logger.Debug("帧解码失败", "err", err)
	return nil, 0, err
}

func decodeFrame(p []byte) (Message, int, error) {
	if len(p) == 0 {
		return nil, 0, io.EOF
	}
	kind := Kind(p[0])
	if kind > KindBlock {
		return nil, 0, fmt.Errorf("%w: unknown message kind %d", ErrProtocolViolation, p[0])
	}
	if len(p) < headerSize {
		return nil, 0, io.ErrUnexpectedEOF
	}
	pipe := binary.BigEndian.Uint32(p[1:headerSize])

	body := p[headerSize:]
	rd := bytes.NewReader(body)
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(rd)
	vd := &valueDecoder{rd: rd, dec: dec}

	var m Message
	switch kind {
	case KindOpen:
		var method [2]byte
		if _, err := io.ReadFull(rd, method[:]); err != nil {
			return nil, 0, err
		}
		v, err := vd.decode(0)
		if err != nil {
			return nil, 0, err
		}
		params, ok := v.([]any)
		if !ok && v != nil {
			return nil, 0, fmt.Errorf("%w: open parameters must be a list, got %T", ErrProtocolViolation, v)
		}
		m = &Open{Pipe: pipe, Method: binary.BigEndian.Uint16(method[:]), Params: params}

	case KindClose:
		result, err := vd.decode(0)
		if err != nil {
			return nil, 0, err
		}
		v, err := vd.decode(0)
		if err != nil {
			return nil, 0, err
		}
		msg, ok := v.(string)
		if !ok && v != nil {
			return nil, 0, fmt.Errorf("%w: close error must be a string, got %T", ErrProtocolViolation, v)
		}
		m = &Close{Pipe: pipe, Result: result, Error: msg}

	case KindBlock:
		v, err := vd.decode(0)
		if err != nil {
			return nil, 0, err
		}
		data, ok := v.([]byte)
		if !ok && v != nil {
			return nil, 0, fmt.Errorf("%w: block payload must be binary, got %T", ErrProtocolViolation, v)
		}
		m = &Block{Pipe: pipe, Data: data}
	}

	n := headerSize + len(body) - rd.Len()
	if n > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocolViolation, n, MaxFrameSize)
	}
	return m, n, nil
}
