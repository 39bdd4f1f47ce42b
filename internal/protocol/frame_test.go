package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/yc7764/whisperstream/internal/protocol"
)

func TestReadFrame_RoundTrip(t *testing.T) {
	t.Parallel()
	codes := []protocol.Code{
		protocol.CodeUser, protocol.CodeStatus, protocol.CodeBegin,
		protocol.CodeSpeech, protocol.CodeFinish, protocol.CodeLogin,
		protocol.CodeEngineStatus, protocol.CodeResult, protocol.CodeError,
		protocol.CodeFinal,
	}
	rapid.Check(t, func(t *rapid.T) {
		code := rapid.SampledFrom(codes).Draw(t, "code")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "payload")

		var buf bytes.Buffer
		if err := protocol.WriteFrame(&buf, code, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		f, err := protocol.ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if f.Code != code {
			t.Fatalf("code = %s, want %s", f.Code, code)
		}
		if !bytes.Equal(f.Payload, payload) {
			t.Fatalf("payload mismatch: got %d bytes, want %d", len(f.Payload), len(payload))
		}
	})
}

func TestReadFrame_LengthParsing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{name: "zero", input: "%f0000", wantLen: 0},
		{name: "lowercase hex", input: "%s000a" + strings.Repeat("x", 10), wantLen: 10},
		{name: "uppercase hex", input: "%s000A" + strings.Repeat("x", 10), wantLen: 10},
		{name: "mixed case max", input: "%sFffF" + strings.Repeat("x", 0xFFFF), wantLen: 0xFFFF},
		{name: "non-hex", input: "%szz00", wantErr: true},
		{name: "spaces", input: "%s 100", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := protocol.ReadFrame(strings.NewReader(tt.input))
			if tt.wantErr {
				if !errors.Is(err, protocol.ErrProtocol) {
					t.Fatalf("err = %v, want ErrProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if len(f.Payload) != tt.wantLen {
				t.Fatalf("payload length = %d, want %d", len(f.Payload), tt.wantLen)
			}
		})
	}
}

func TestReadFrame_NonHexConsumesOnlyHeader(t *testing.T) {
	t.Parallel()
	r := strings.NewReader("%szz00TRAILING")
	_, err := protocol.ReadFrame(r)
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "TRAILING" {
		t.Fatalf("bytes beyond the 6-byte header were consumed; remaining %q", rest)
	}
}

func TestReadFrame_ShortRead(t *testing.T) {
	t.Parallel()
	for _, input := range []string{"%s", "%s00", "%s0010abc"} {
		if _, err := protocol.ReadFrame(strings.NewReader(input)); !errors.Is(err, protocol.ErrProtocol) {
			t.Errorf("input %q: err = %v, want ErrProtocol", input, err)
		}
	}
}

func TestReadFrame_CleanEOF(t *testing.T) {
	t.Parallel()
	if _, err := protocol.ReadFrame(strings.NewReader("")); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestWriteFrame_OversizedPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := protocol.WriteFrame(&buf, protocol.CodeSpeech, make([]byte, protocol.MaxPayload+1))
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("partial frame written: %d bytes", buf.Len())
	}
}

func TestWriteFinal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := protocol.WriteFinal(&buf, ""); err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}
	if got := buf.String(); got != "%F0000" {
		t.Fatalf("empty final frame = %q, want %%F0000", got)
	}

	buf.Reset()
	if err := protocol.WriteFinal(&buf, "TIME_OUT"); err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}
	if got := buf.String(); got != "%F0008TIME_OUT" {
		t.Fatalf("final frame with reason = %q", got)
	}
}

func TestReadMagic(t *testing.T) {
	t.Parallel()
	if err := protocol.ReadMagic(strings.NewReader(protocol.Magic)); err != nil {
		t.Fatalf("valid magic rejected: %v", err)
	}
	for _, bad := range []string{"WHISPER_STREAMING_V9.9", "short", ""} {
		if err := protocol.ReadMagic(strings.NewReader(bad)); !errors.Is(err, protocol.ErrInvalidMagic) {
			t.Errorf("magic %q: err = %v, want ErrInvalidMagic", bad, err)
		}
	}
}
