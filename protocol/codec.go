package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

const (
	// HeaderSize version(1) priority(1) command(2) length(2) sequence(4)
	HeaderSize = 10
	// MaxString 字符串字段的最大字节数
	MaxString = 256
)

// Encode 编码一条命令；id 与版本不匹配或载荷类型不对属于调用方错误，直接 panic
func Encode(c Command) []byte {
	wire, ok := c.Version.wireID(c.ID)
	if !ok {
		panic(fmt.Sprintf("protocol: %s is not valid in %s", c.ID, c.Version))
	}
	want := payloadFor(c.ID)
	p := c.Payload
	if p == nil {
		if _, empty := want.(*Empty); !empty {
			panic(fmt.Sprintf("protocol: %s requires a %T payload", c.ID, want))
		}
		p = want
	}
	if reflect.TypeOf(p) != reflect.TypeOf(want) {
		panic(fmt.Sprintf("protocol: %s carries %T, want %T", c.ID, p, want))
	}

	w := writer{buf: make([]byte, HeaderSize, HeaderSize+32)}
	p.encode(&w)
	n := len(w.buf) - HeaderSize
	if n > math.MaxUint16 {
		panic(fmt.Sprintf("protocol: %s payload too large (%d bytes)", c.ID, n))
	}
	w.buf[0] = byte(c.Version)
	w.buf[1] = byte(c.Priority)
	binary.BigEndian.PutUint16(w.buf[2:], wire)
	binary.BigEndian.PutUint16(w.buf[4:], uint16(n))
	binary.BigEndian.PutUint32(w.buf[6:], c.Sequence)
	return w.buf
}

// Decode 先读版本再按版本解释命令 id 与载荷
func Decode(b []byte) (Command, error) {
	if len(b) == 0 {
		return Command{}, decodeErr(ErrMalformedHeader, 0, "empty datagram")
	}
	v := Version(b[0])
	if !v.Valid() {
		return Command{}, decodeErr(ErrVersionMismatch, 0, "version %d", b[0])
	}
	if len(b) < HeaderSize {
		return Command{}, decodeErr(ErrMalformedHeader, len(b), "short header (%d bytes)", len(b))
	}
	prio := Priority(b[1])
	if prio > PriorityCritical {
		return Command{}, decodeErr(ErrMalformedHeader, 1, "priority %d", b[1])
	}
	wire := binary.BigEndian.Uint16(b[2:])
	id, ok := v.command(wire)
	if !ok {
		return Command{}, decodeErr(ErrUnknownCommandID, 2, "wire id %d in %s", wire, v)
	}
	n := int(binary.BigEndian.Uint16(b[4:]))
	seq := binary.BigEndian.Uint32(b[6:])
	rest := len(b) - HeaderSize
	if n > rest {
		return Command{}, decodeErr(ErrTruncatedPayload, 4, "length %d, have %d", n, rest)
	}
	if n < rest {
		return Command{}, decodeErr(ErrMalformedHeader, HeaderSize+n, "%d trailing bytes", rest-n)
	}

	p := payloadFor(id)
	r := reader{buf: b[HeaderSize:], base: HeaderSize}
	p.decode(&r)
	if r.err == nil && r.off != len(r.buf) {
		r.fail(ErrMalformedPayload, "%d unread payload bytes", len(r.buf)-r.off)
	}
	if r.err != nil {
		return Command{}, r.err
	}
	return Command{ID: id, Version: v, Priority: prio, Sequence: seq, Payload: p}, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) i16(v int16)  { w.u16(uint16(v)) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *writer) str(s string) {
	if len(s) > MaxString {
		panic(fmt.Sprintf("protocol: string of %d bytes exceeds %d", len(s), MaxString))
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// count 列表长度前缀
func (w *writer) count(n int) {
	if n > math.MaxUint8 {
		panic(fmt.Sprintf("protocol: list of %d entries exceeds %d", n, math.MaxUint8))
	}
	w.u8(uint8(n))
}

// reader 出错后所有读取返回零值，调用方最后统一检查 err
type reader struct {
	buf  []byte
	off  int
	base int
	err  error
}

func (r *reader) fail(kind error, format string, args ...any) {
	if r.err == nil {
		r.err = decodeErr(kind, r.base+r.off, format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.fail(ErrTruncatedPayload, "need %d bytes, have %d", n, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) i16() int16   { return int16(r.u16()) }
func (r *reader) i32() int32   { return int32(r.u32()) }
func (r *reader) i64() int64   { return int64(r.u64()) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) str() string {
	n := int(r.u16())
	if r.err != nil {
		return ""
	}
	if n > MaxString {
		r.off -= 2
		r.fail(ErrMalformedPayload, "string of %d bytes exceeds %d", n, MaxString)
		return ""
	}
	return string(r.take(n))
}

func (r *reader) status() Status {
	s := Status(r.u8())
	if r.err == nil && !s.Valid() {
		r.off--
		r.fail(ErrMalformedPayload, "status %d", uint8(s))
	}
	return s
}
