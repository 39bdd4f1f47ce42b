// Package protocol implements the framed wire protocol spoken between the
// streaming client and the server.
//
// Every frame after the initial magic string has the same layout: a 2-byte
// ASCII code, a 4-character hexadecimal payload length, and the payload
// itself. The length is written lowercase but parsed case-insensitively.
// Payloads are capped at 0xFFFF bytes by the 4-digit length field.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Magic is the raw handshake string a client must send before any framed
// traffic. It is sent as-is, without a length prefix.
const Magic = "WHISPER_STREAMING_V1.0"

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 0xFFFF

// ErrProtocol reports a malformed frame: a short read mid-frame, a non-hex
// length field, or an oversized payload on the write side.
var ErrProtocol = errors.New("protocol error")

// ErrInvalidMagic reports a handshake that does not match [Magic].
var ErrInvalidMagic = errors.New("invalid magic string")

// Code is the 2-byte ASCII tag identifying a frame's meaning.
type Code [2]byte

// Client → server codes.
var (
	CodeUser   = Code{'%', 'u'} // username follows in the payload
	CodeStatus = Code{'%', 'c'} // engine status query
	CodeBegin  = Code{'%', 'b'} // begin streaming session
	CodeSpeech = Code{'%', 's'} // raw PCM chunk
	CodeFinish = Code{'%', 'f'} // end of audio
)

// Server → client codes.
var (
	CodeLogin        = Code{'%', 'L'} // welcome message
	CodeEngineStatus = Code{'%', 'C'} // one status line per engine
	CodeResult       = Code{'%', 'R'} // recognition result for one utterance
	CodeError        = Code{'%', 'E'} // non-fatal in-session error
	CodeFinal        = Code{'%', 'F'} // terminal frame, connection closes
)

func (c Code) String() string { return string(c[:]) }

// Frame is one decoded wire frame.
type Frame struct {
	Code    Code
	Payload []byte
}

// ReadMagic consumes exactly len(Magic) bytes from r and verifies the
// handshake. A short read or a mismatch returns ErrInvalidMagic.
func ReadMagic(r io.Reader) error {
	buf := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: read handshake: %v", ErrInvalidMagic, err)
	}
	if string(buf) != Magic {
		return fmt.Errorf("%w: got %q", ErrInvalidMagic, buf)
	}
	return nil
}

// ReadFrame decodes one frame from r. It reads the 6-byte header first and
// only then the payload, so a non-hex length fails without consuming any
// payload bytes. EOF before the first header byte is returned as io.EOF;
// EOF anywhere inside a frame is an ErrProtocol.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("%w: read header: %w", ErrProtocol, err)
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return Frame{}, fmt.Errorf("%w: read header: %w", ErrProtocol, err)
	}

	f := Frame{Code: Code{header[0], header[1]}}
	n, err := strconv.ParseUint(string(header[2:]), 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: length %q is not hex", ErrProtocol, header[2:])
	}
	if n == 0 {
		return f, nil
	}

	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, fmt.Errorf("%w: read %d-byte payload: %w", ErrProtocol, n, err)
	}
	return f, nil
}

// WriteFrame encodes code, the lowercase 4-digit hex length of payload, and
// the payload as one contiguous buffer handed to a single Write call.
func WriteFrame(w io.Writer, code Code, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload %d bytes exceeds %#x", ErrProtocol, len(payload), MaxPayload)
	}
	buf := make([]byte, 0, 6+len(payload))
	buf = append(buf, code[0], code[1])
	buf = append(buf, fmt.Sprintf("%04x", len(payload))...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame %s: %w", code, err)
	}
	return nil
}

// WriteFinal emits the terminal %F frame. An empty reason produces the bare
// %F0000 that must close every connection; a non-empty reason is carried as
// the payload (used for timeout notices).
func WriteFinal(w io.Writer, reason string) error {
	return WriteFrame(w, CodeFinal, []byte(reason))
}
