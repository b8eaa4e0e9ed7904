// Package rpcwire implements the wire format for the session manager's RPC
// pipe: a 4-byte big-endian length prefix followed by a tagged protobuf
// envelope, built field-by-field with protowire rather than generated
// message code (no protoc/buf toolchain runs in this build).
package rpcwire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersionMajor and ProtocolVersionMinor are this build's ICP
// version, exchanged on the first frame of every new connection (spec
// §4.3 step 3). A peer whose major version differs is incompatible and
// the connection is closed rather than risk decoding frames under the
// wrong schema.
const (
	ProtocolVersionMajor uint32 = 1
	ProtocolVersionMinor uint32 = 0
)

// Status mirrors the numeric wire codes exactly; values are part of the
// protocol and must never be renumbered.
type Status uint32

const (
	StatusSuccess         Status = 0
	StatusFailed          Status = 1
	StatusNotFound        Status = 2
	StatusBadRequestData  Status = 100
	StatusBadResponse     Status = 101
	StatusTransportError  Status = 102
	StatusCallTimeout     Status = 103
	StatusOutOfMemory     Status = 104
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusNotFound:
		return "NOTFOUND"
	case StatusBadRequestData:
		return "BAD_REQUEST_DATA"
	case StatusBadResponse:
		return "BAD_RESPONSE"
	case StatusTransportError:
		return "TRANSPORT_ERROR"
	case StatusCallTimeout:
		return "CALL_TIMEOUT"
	case StatusOutOfMemory:
		return "OUTOFMEMORY"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// VersionInfo is the handshake sub-message carried on the first frame in
// each direction.
type VersionInfo struct {
	VMajor uint32
	VMinor uint32
}

// Envelope is the full set of fields carried on the wire. Payload,
// ErrorDescription and Version are optional; HasVersion/HasPayload/
// HasErrorDescription distinguish "absent" from "present but empty".
type Envelope struct {
	Tag              uint32
	MsgType          uint32
	IsResponse       bool
	Status           Status
	Payload          []byte
	HasPayload       bool
	ErrorDescription string
	HasErrorDesc     bool
	Version          VersionInfo
	HasVersion       bool
}

// field numbers for the hand-rolled envelope schema. Stable for wire
// compatibility; never renumber.
const (
	fieldTag        = protowire.Number(1)
	fieldMsgType    = protowire.Number(2)
	fieldIsResponse = protowire.Number(3)
	fieldStatus     = protowire.Number(4)
	fieldPayload    = protowire.Number(5)
	fieldErrorDesc  = protowire.Number(6)
	fieldVersion    = protowire.Number(7)

	versionFieldMajor = protowire.Number(1)
	versionFieldMinor = protowire.Number(2)
)

// ErrMalformed indicates the buffer does not contain a well-formed
// envelope (truncated, unknown wire type on a known field, or similar).
var ErrMalformed = errors.New("rpcwire: malformed envelope")

// Marshal encodes e into its wire representation, excluding the length
// prefix (Frame adds that).
func Marshal(e Envelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Tag))
	b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.MsgType))
	b = protowire.AppendTag(b, fieldIsResponse, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(e.IsResponse))
	b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Status))
	if e.HasPayload {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	if e.HasErrorDesc {
		b = protowire.AppendTag(b, fieldErrorDesc, protowire.BytesType)
		b = protowire.AppendString(b, e.ErrorDescription)
	}
	if e.HasVersion {
		var vb []byte
		vb = protowire.AppendTag(vb, versionFieldMajor, protowire.VarintType)
		vb = protowire.AppendVarint(vb, uint64(e.Version.VMajor))
		vb = protowire.AppendTag(vb, versionFieldMinor, protowire.VarintType)
		vb = protowire.AppendVarint(vb, uint64(e.Version.VMinor))
		b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
		b = protowire.AppendBytes(b, vb)
	}
	return b
}

// Unmarshal decodes a wire-format buffer (without the length prefix) into
// an Envelope.
func Unmarshal(buf []byte) (Envelope, error) {
	var e Envelope
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: consume tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		buf = buf[n:]

		switch num {
		case fieldTag:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			e.Tag = uint32(v)
			buf = buf[n:]
		case fieldMsgType:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			e.MsgType = uint32(v)
			buf = buf[n:]
		case fieldIsResponse:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			e.IsResponse = v != 0
			buf = buf[n:]
		case fieldStatus:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			e.Status = Status(v)
			buf = buf[n:]
		case fieldPayload:
			v, n, err := consumeBytes(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			e.Payload = v
			e.HasPayload = true
			buf = buf[n:]
		case fieldErrorDesc:
			v, n, err := consumeBytes(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			e.ErrorDescription = string(v)
			e.HasErrorDesc = true
			buf = buf[n:]
		case fieldVersion:
			v, n, err := consumeBytes(buf, typ)
			if err != nil {
				return Envelope{}, err
			}
			vi, err := unmarshalVersion(v)
			if err != nil {
				return Envelope{}, err
			}
			e.Version = vi
			e.HasVersion = true
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: skip unknown field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return e, nil
}

func unmarshalVersion(buf []byte) (VersionInfo, error) {
	var vi VersionInfo
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return VersionInfo{}, fmt.Errorf("%w: version tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case versionFieldMajor:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return VersionInfo{}, err
			}
			vi.VMajor = uint32(v)
			buf = buf[n:]
		case versionFieldMinor:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return VersionInfo{}, err
			}
			vi.VMinor = uint32(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return VersionInfo{}, fmt.Errorf("%w: skip unknown version field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return vi, nil
}

func consumeVarint(buf []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: expected varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: consume varint: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(buf []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: expected bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: consume bytes: %v", ErrMalformed, protowire.ParseError(n))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
