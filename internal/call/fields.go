package call

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldWriter accumulates a call payload field by field. Every concrete
// call type's Encode method uses this instead of hand-writing protowire
// calls, keeping the per-call-type boilerplate to one line per field.
type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) Uint32(num protowire.Number, v uint32) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, uint64(v))
}

func (w *fieldWriter) Int64(num protowire.Number, v int64) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, uint64(v))
}

func (w *fieldWriter) Bool(num protowire.Number, v bool) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	if v {
		w.buf = protowire.AppendVarint(w.buf, 1)
	} else {
		w.buf = protowire.AppendVarint(w.buf, 0)
	}
}

func (w *fieldWriter) String(num protowire.Number, v string) {
	if v == "" {
		return
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, v)
}

func (w *fieldWriter) Bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
}

func (w *fieldWriter) Bytes() []byte { return w.buf }

// fieldReader walks a payload's tagged fields and hands each one to a
// callback keyed by field number; unknown fields are skipped.
type fieldReader struct {
	buf []byte
}

func newFieldReader(buf []byte) *fieldReader { return &fieldReader{buf: buf} }

// Each consumes every field in the payload, invoking handle(num, typ, raw)
// for each. raw is the encoded value bytes (suitable for a further
// protowire.Consume* call by the handler).
func (r *fieldReader) Each(handle func(num protowire.Number, typ protowire.Type, buf []byte) (n int, err error)) error {
	buf := r.buf
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("call: consume tag: %v", protowire.ParseError(n))
		}
		buf = buf[n:]
		consumed, err := handle(num, typ, buf)
		if err != nil {
			return err
		}
		buf = buf[consumed:]
	}
	return nil
}

func consumeVarint(buf []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("call: expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, fmt.Errorf("call: consume varint: %v", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(buf []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("call: expected bytes, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return "", 0, fmt.Errorf("call: consume bytes: %v", protowire.ParseError(n))
	}
	return string(v), n, nil
}

func consumeBytesCopy(buf []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("call: expected bytes, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, fmt.Errorf("call: consume bytes: %v", protowire.ParseError(n))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func skipField(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, buf)
	if n < 0 {
		return 0, fmt.Errorf("call: skip field %d: %v", num, protowire.ParseError(n))
	}
	return n, nil
}
