package rpcwire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []Envelope{
		{Tag: 1, MsgType: 42, IsResponse: false, Status: StatusSuccess},
		{
			Tag: 7, MsgType: 9, IsResponse: true, Status: StatusFailed,
			Payload: []byte("hello"), HasPayload: true,
			ErrorDescription: "boom", HasErrorDesc: true,
		},
		{
			Tag: 0, MsgType: 0, IsResponse: true, Status: StatusSuccess,
			Version: VersionInfo{VMajor: 3, VMinor: 1}, HasVersion: true,
		},
		{Tag: 5, MsgType: 1, HasPayload: true, Payload: []byte{}},
	}

	for i, want := range cases {
		buf := Marshal(want)
		got, err := Unmarshal(buf)
		if err != nil {
			t.Fatalf("case %d: Unmarshal() error = %v", i, err)
		}
		if got.Tag != want.Tag || got.MsgType != want.MsgType || got.IsResponse != want.IsResponse || got.Status != want.Status {
			t.Fatalf("case %d: core fields mismatch: got %+v, want %+v", i, got, want)
		}
		if got.HasPayload != want.HasPayload || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("case %d: payload mismatch: got %+v, want %+v", i, got, want)
		}
		if got.HasErrorDesc != want.HasErrorDesc || got.ErrorDescription != want.ErrorDescription {
			t.Fatalf("case %d: error description mismatch: got %+v, want %+v", i, got, want)
		}
		if got.HasVersion != want.HasVersion || got.Version != want.Version {
			t.Fatalf("case %d: version mismatch: got %+v, want %+v", i, got, want)
		}
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	base := Marshal(Envelope{Tag: 1, MsgType: 2, Status: StatusNotFound})
	// Append an unknown varint field (number 99) that decoders must skip.
	unknown := []byte{99<<3 | 0, 0x01}
	buf := append(append([]byte{}, base...), unknown...)

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Tag != 1 || got.MsgType != 2 || got.Status != StatusNotFound {
		t.Fatalf("got %+v, want Tag=1 MsgType=2 Status=NOTFOUND", got)
	}
}

func TestUnmarshalRejectsTruncatedBuffer(t *testing.T) {
	buf := Marshal(Envelope{Tag: 1, MsgType: 2, HasPayload: true, Payload: []byte("abcdef")})
	if _, err := Unmarshal(buf[:len(buf)-2]); err == nil {
		t.Fatalf("Unmarshal() on truncated buffer returned nil error")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Envelope{Tag: 3, MsgType: 10, IsResponse: true, Status: StatusSuccess, HasPayload: true, Payload: []byte("payload")}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	// A second frame to confirm the reader stops at frame boundaries.
	second := Envelope{Tag: 4, MsgType: 11, Status: StatusNotFound}
	if err := WriteFrame(&buf, second); err != nil {
		t.Fatalf("WriteFrame() second error = %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got.Tag != want.Tag || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	got2, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame() second error = %v", err)
	}
	if got2.Tag != second.Tag || got2.Status != second.Status {
		t.Fatalf("got2 %+v, want %+v", got2, second)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})
	r := bufio.NewReader(&buf)
	if _, err := ReadFrame(r); err == nil {
		t.Fatalf("ReadFrame() with oversized length returned nil error")
	}
}
