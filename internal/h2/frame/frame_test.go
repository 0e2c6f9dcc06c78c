package frame

import (
	"bytes"
	"errors"
	"testing"
)

func roundTrip(t *testing.T, f *Frame) *Frame {
	t.Helper()
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	got, err := ReadFrame(&buf, MaxAllowedFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	return got
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []*Frame{
		Data(1, true, []byte("hello")),
		Data(3, false, nil),
		Headers(5, false, true, []byte{0x82, 0x86}),
		Continuation(5, true, []byte{0x84}),
		Settings(Setting{ID: SettingInitialWindowSize, Val: 1024}),
		SettingsAck(),
		RSTStream(7, ErrCodeCancel),
		WindowUpdate(0, 65535),
		WindowUpdate(9, 1),
		Ping(false, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}),
		GoAway(11, ErrCodeProtocol, []byte("debug")),
		PushPromise(1, 2, true, []byte{0x82}),
	}
	for _, want := range cases {
		got := roundTrip(t, want)
		if got.Type != want.Type {
			t.Errorf("%v: type mismatch, got %v", want, got.Type)
		}
		if got.Flags != want.Flags {
			t.Errorf("%v: flags mismatch, got 0x%x", want, uint8(got.Flags))
		}
		if got.StreamID != want.StreamID {
			t.Errorf("%v: stream id mismatch, got %d", want, got.StreamID)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("%v: payload mismatch, got %q", want, got.Payload)
		}
	}
}

func TestReadFrameEnforcesMaxSize(t *testing.T) {
	f := Data(1, false, make([]byte, 2048))
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	_, err := ReadFrame(&buf, 1024)
	var ce ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if ce.Code != ErrCodeFrameSize {
		t.Errorf("expected FRAME_SIZE_ERROR, got %v", ce.Code)
	}
}

func TestReadFrameMasksReservedBit(t *testing.T) {
	var buf bytes.Buffer
	f := Data(5, false, []byte("x"))
	wire := f.Append(nil)
	// Set the reserved bit of the stream id.
	wire[5] |= 0x80
	buf.Write(wire)
	got, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.StreamID != 5 {
		t.Errorf("reserved bit leaked into stream id: %d", got.StreamID)
	}
}

func TestReadFrameUnknownTypePassesThrough(t *testing.T) {
	raw := &Frame{Type: Type(0xee), StreamID: 3, Payload: []byte("opaque")}
	got := roundTrip(t, raw)
	if got.Type.Known() {
		t.Errorf("type 0xee should be unknown")
	}
	if !bytes.Equal(got.Payload, raw.Payload) {
		t.Errorf("unknown frame payload mangled: %q", got.Payload)
	}
}

func TestParseDataPadding(t *testing.T) {
	f := &Frame{Type: FrameData, Flags: FlagPadded, StreamID: 1,
		Payload: append([]byte{2}, []byte("datXX")...)}
	p, err := ParseData(f)
	if err != nil {
		t.Fatalf("ParseData failed: %v", err)
	}
	if string(p.Data) != "dat" {
		t.Errorf("padding not stripped, got %q", p.Data)
	}

	bad := &Frame{Type: FrameData, Flags: FlagPadded, StreamID: 1, Payload: []byte{9, 'a'}}
	_, err = ParseData(bad)
	var ce ConnError
	if !errors.As(err, &ce) || ce.Code != ErrCodeProtocol {
		t.Errorf("oversized padding should be a protocol error, got %v", err)
	}
}

func TestParseHeadersPriority(t *testing.T) {
	payload := []byte{0x80, 0x00, 0x00, 0x07, 42, 0x82}
	f := &Frame{Type: FrameHeaders, Flags: FlagPriority | FlagEndHeaders, StreamID: 9, Payload: payload}
	p, err := ParseHeaders(f)
	if err != nil {
		t.Fatalf("ParseHeaders failed: %v", err)
	}
	if p.Priority == nil {
		t.Fatal("expected priority section")
	}
	if !p.Priority.Exclusive || p.Priority.StreamDep != 7 || p.Priority.Weight != 42 {
		t.Errorf("priority decoded wrong: %+v", p.Priority)
	}
	if !bytes.Equal(p.Fragment, []byte{0x82}) {
		t.Errorf("fragment decoded wrong: %v", p.Fragment)
	}
}

func TestParseSettingsValidation(t *testing.T) {
	onStream := &Frame{Type: FrameSettings, StreamID: 1}
	if _, err := ParseSettings(onStream); err == nil {
		t.Error("SETTINGS on a stream should fail")
	}

	ackWithPayload := &Frame{Type: FrameSettings, Flags: FlagAck, Payload: []byte{0}}
	if _, err := ParseSettings(ackWithPayload); err == nil {
		t.Error("SETTINGS ACK with payload should fail")
	}

	badLen := &Frame{Type: FrameSettings, Payload: make([]byte, 7)}
	if _, err := ParseSettings(badLen); err == nil {
		t.Error("SETTINGS with length not a multiple of 6 should fail")
	}

	ok := Settings(
		Setting{ID: SettingEnablePush, Val: 0},
		Setting{ID: SettingMaxFrameSize, Val: 32768},
	)
	settings, err := ParseSettings(ok)
	if err != nil {
		t.Fatalf("ParseSettings failed: %v", err)
	}
	if len(settings) != 2 || settings[1].Val != 32768 {
		t.Errorf("settings decoded wrong: %+v", settings)
	}
}

func TestParseGoAway(t *testing.T) {
	f := GoAway(17, ErrCodeFlowControl, []byte("why"))
	p, err := ParseGoAway(f)
	if err != nil {
		t.Fatalf("ParseGoAway failed: %v", err)
	}
	if p.LastStreamID != 17 || p.Code != ErrCodeFlowControl || string(p.Debug) != "why" {
		t.Errorf("goaway decoded wrong: %+v", p)
	}
}

func TestFragmentHeaders(t *testing.T) {
	block := make([]byte, 40000)
	frames := FragmentHeaders(7, true, block, DefaultMaxFrameSize)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames for a 40000 byte block, got %d", len(frames))
	}
	if frames[0].Type != FrameHeaders || frames[1].Type != FrameContinuation {
		t.Errorf("frame types wrong: %v %v", frames[0].Type, frames[1].Type)
	}
	if !frames[0].Flags.Has(FlagEndStream) {
		t.Error("END_STREAM must ride the HEADERS frame")
	}
	if frames[0].Flags.Has(FlagEndHeaders) {
		t.Error("END_HEADERS set too early")
	}
	if !frames[2].Flags.Has(FlagEndHeaders) {
		t.Error("final CONTINUATION must carry END_HEADERS")
	}
	total := 0
	for _, f := range frames {
		total += len(f.Payload)
	}
	if total != len(block) {
		t.Errorf("fragments cover %d bytes, want %d", total, len(block))
	}
}
