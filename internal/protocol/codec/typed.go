package codec

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Tag 类型化值的类型标记
type Tag byte

const (
	TagNull    Tag = 0
	TagBool    Tag = 1
	TagInt8    Tag = 2
	TagInt16   Tag = 3
	TagInt32   Tag = 4
	TagInt64   Tag = 5
	TagFloat32 Tag = 6
	TagFloat64 Tag = 7
	TagBinary  Tag = 8
	TagString  Tag = 9
	TagList    Tag = 10
	TagMap     Tag = 11
)

// maxDepth 列表/映射的最大嵌套深度
const maxDepth = 64

// valueEncoder 写出 标记字节 + msgpack 值体
type valueEncoder struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

func (e *valueEncoder) tag(t Tag) {
	e.buf.WriteByte(byte(t))
}

// encode 写出一个类型化值
//
// Go 的 int/uint 系列按能无损容纳的最窄有符号宽度写出，
// 切片与数组写为列表，映射写为映射，其他类型返回 ErrEncoding。
func (e *valueEncoder) encode(v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrEncoding, maxDepth)
	}

	switch v := v.(type) {
	case nil:
		e.tag(TagNull)
		return e.enc.EncodeNil()
	case bool:
		e.tag(TagBool)
		return e.enc.EncodeBool(v)
	case int8:
		e.tag(TagInt8)
		return e.enc.EncodeInt(int64(v))
	case int16:
		e.tag(TagInt16)
		return e.enc.EncodeInt(int64(v))
	case int32:
		e.tag(TagInt32)
		return e.enc.EncodeInt(int64(v))
	case int64:
		e.tag(TagInt64)
		return e.enc.EncodeInt(v)
	case int:
		e.tag(TagInt64)
		return e.enc.EncodeInt(int64(v))
	case uint8:
		e.tag(TagInt16)
		return e.enc.EncodeInt(int64(v))
	case uint16:
		e.tag(TagInt32)
		return e.enc.EncodeInt(int64(v))
	case uint32:
		e.tag(TagInt64)
		return e.enc.EncodeInt(int64(v))
	case uint:
		return e.encodeUint64(uint64(v))
	case uint64:
		return e.encodeUint64(v)
	case float32:
		e.tag(TagFloat32)
		return e.enc.EncodeFloat32(v)
	case float64:
		e.tag(TagFloat64)
		return e.enc.EncodeFloat64(v)
	case []byte:
		e.tag(TagBinary)
		if v == nil {
			return e.enc.EncodeNil()
		}
		return e.enc.EncodeBytes(v)
	case string:
		e.tag(TagString)
		return e.enc.EncodeString(v)
	case []any:
		e.tag(TagList)
		if err := e.enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := e.encode(item, depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		e.tag(TagMap)
		if err := e.enc.EncodeMapLen(len(v)); err != nil {
			return err
		}
		for k, item := range v {
			if err := e.encode(k, depth+1); err != nil {
				return err
			}
			if err := e.encode(item, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return e.encodeReflect(reflect.ValueOf(v), depth)
}

func (e *valueEncoder) encodeUint64(v uint64) error {
	if v > math.MaxInt64 {
		return fmt.Errorf("%w: unsigned value %d overflows int64", ErrEncoding, v)
	}
	e.tag(TagInt64)
	return e.enc.EncodeInt(int64(v))
}

// encodeReflect 处理其他元素类型的切片、数组与映射
func (e *valueEncoder) encodeReflect(rv reflect.Value, depth int) error {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			e.tag(TagList)
			return e.enc.EncodeNil()
		}
		e.tag(TagList)
		if err := e.enc.EncodeArrayLen(rv.Len()); err != nil {
			return err
		}
		for i := 0; i < rv.Len(); i++ {
			if err := e.encode(rv.Index(i).Interface(), depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		e.tag(TagMap)
		if rv.IsNil() {
			return e.enc.EncodeNil()
		}
		if err := e.enc.EncodeMapLen(rv.Len()); err != nil {
			return err
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := e.encode(iter.Key().Interface(), depth+1); err != nil {
				return err
			}
			if err := e.encode(iter.Value().Interface(), depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.tag(TagNull)
			return e.enc.EncodeNil()
		}
		return e.encode(rv.Elem().Interface(), depth)
	}
	return fmt.Errorf("%w: unsupported type %s", ErrEncoding, rv.Type())
}

// valueDecoder 读取 标记字节 + msgpack 值体
type valueDecoder struct {
	rd  *bytes.Reader
	dec *msgpack.Decoder
}

// decode 读取一个类型化值
//
// 值体为 msgpack nil 时，任何标记都解码为 nil。
func (d *valueDecoder) decode(depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrProtocolViolation, maxDepth)
	}

	b, err := d.rd.ReadByte()
	if err != nil {
		return nil, err
	}
	tag := Tag(b)
	if tag > TagMap {
		return nil, fmt.Errorf("%w: unknown type tag 0x%02X", ErrProtocolViolation, b)
	}

	code, err := d.dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if code == msgpcode.Nil {
		return nil, d.dec.DecodeNil()
	}

	switch tag {
	case TagNull:
		return nil, fmt.Errorf("%w: null tag with non-nil body 0x%02X", ErrProtocolViolation, code)
	case TagBool:
		return d.dec.DecodeBool()
	case TagInt8:
		return d.dec.DecodeInt8()
	case TagInt16:
		return d.dec.DecodeInt16()
	case TagInt32:
		return d.dec.DecodeInt32()
	case TagInt64:
		return d.dec.DecodeInt64()
	case TagFloat32:
		return d.dec.DecodeFloat32()
	case TagFloat64:
		return d.dec.DecodeFloat64()
	case TagBinary:
		return d.dec.DecodeBytes()
	case TagString:
		return d.dec.DecodeString()
	case TagList:
		return d.decodeList(depth)
	default:
		return d.decodeMap(depth)
	}
}

// checkLen 拒绝不可能装进一个帧的元素数量，避免按线上长度盲目分配
func checkLen(n, perItem int) error {
	if n > MaxFrameSize/perItem {
		return fmt.Errorf("%w: %d elements cannot fit in a frame", ErrProtocolViolation, n)
	}
	return nil
}

func (d *valueDecoder) decodeList(depth int) (any, error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := checkLen(n, 2); err != nil {
		return nil, err
	}
	list := make([]any, n)
	for i := range list {
		if list[i], err = d.decode(depth + 1); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (d *valueDecoder) decodeMap(depth int) (any, error) {
	n, err := d.dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := checkLen(n, 4); err != nil {
		return nil, err
	}
	m := make(map[any]any, n)
	for i := 0; i < n; i++ {
		k, err := d.decode(depth + 1)
		if err != nil {
			return nil, err
		}
		v, err := d.decode(depth + 1)
		if err != nil {
			return nil, err
		}
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return nil, fmt.Errorf("%w: unhashable map key of type %T", ErrProtocolViolation, k)
		}
		m[k] = v
	}
	return m, nil
}
