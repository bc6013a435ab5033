package frame

import (
	"bytes"
	"strings"

	stompframe "github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"
)

const (
	EOL = "\r\n"
)

// Mode selects the wire dialect used by a Codec.
type Mode string

const (
	// ModeCompat writes CRLF frames with the legacy content-length accounting
	// expected by the minimal broker.
	ModeCompat Mode = "compat"
	// ModeStrict writes STOMP 1.2 frames through the go-stomp writer.
	ModeStrict Mode = "strict"
)

var (
	ErrEmptyFrame     = errors.New("frame: empty frame")
	ErrFrameTooLarge  = errors.New("frame: frame too large")
	ErrBodyTooLarge   = errors.New("frame: body too large")
	ErrInvalidHeader  = errors.New("frame: invalid header")
	ErrMissingCommand = errors.New("frame: missing command")
	ErrUnknownMode    = errors.New("frame: unknown codec mode")
)

// Frame is one STOMP protocol unit.
type Frame = stompframe.Frame

// Header is the ordered STOMP header list; Set replaces an existing key.
type Header = stompframe.Header

var terminator = []byte{0, '\n'}

// Limits constrains decode memory use.
type Limits struct {
	MaxFrameBytes int
	MaxBodyBytes  int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1024 * 1024,
		MaxBodyBytes:  1024 * 1024,
	}
}

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeCompat:
		return ModeCompat, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", errors.Wrapf(ErrUnknownMode, "%q", raw)
	}
}

// Codec converts frames to and from wire bytes.
type Codec struct {
	mode   Mode
	limits Limits
}

func NewCodec(mode Mode, limits Limits) Codec {
	if mode == "" {
		mode = ModeCompat
	}
	if limits.MaxFrameBytes <= 0 {
		limits.MaxFrameBytes = DefaultLimits().MaxFrameBytes
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = DefaultLimits().MaxBodyBytes
	}
	return Codec{mode: mode, limits: limits}
}

func (c Codec) Mode() Mode {
	return c.mode
}

// Encode renders f including the trailing frame terminator.
func (c Codec) Encode(f *Frame) ([]byte, error) {
	if f == nil || strings.TrimSpace(f.Command) == "" {
		return nil, ErrMissingCommand
	}
	if c.mode == ModeStrict {
		var buf bytes.Buffer
		if err := stompframe.NewWriter(&buf).Write(f); err != nil {
			return nil, errors.Wrap(err, "frame: strict encode")
		}
		return buf.Bytes(), nil
	}
	return encodeCompat(f)
}

func encodeCompat(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteString(EOL)
	if f.Header != nil {
		for i := 0; i < f.Header.Len(); i++ {
			key, value := f.Header.GetAt(i)
			if key == "" || strings.ContainsAny(key, "\r\n\x00:") || strings.ContainsAny(value, "\r\n\x00") {
				return nil, errors.Wrapf(ErrInvalidHeader, "%s %q", f.Command, key)
			}
			buf.WriteString(key)
			buf.WriteByte(':')
			buf.WriteString(value)
			buf.WriteString(EOL)
		}
	}
	buf.WriteString(EOL)
	if f.Body != nil {
		buf.Write(f.Body)
		buf.WriteString(EOL)
	}
	buf.Write(terminator)
	return buf.Bytes(), nil
}

// Decode parses one frame. Heart-beat only input yields ErrEmptyFrame.
func (c Codec) Decode(data []byte) (*Frame, error) {
	if len(data) > c.limits.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	if c.mode == ModeStrict {
		f, err := stompframe.NewReader(bytes.NewReader(data)).Read()
		if err != nil {
			return nil, errors.Wrap(err, "frame: strict decode")
		}
		if f == nil {
			return nil, ErrEmptyFrame
		}
		return f, nil
	}
	return decodeCompat(data, c.limits)
}

func decodeCompat(data []byte, limits Limits) (*Frame, error) {
	text := bytes.TrimLeft(data, "\r\n")
	if len(text) == 0 {
		return nil, ErrEmptyFrame
	}

	command, rest := cutLine(text)
	if command == "" {
		return nil, ErrMissingCommand
	}
	f := stompframe.New(command)

	for len(rest) > 0 {
		var line string
		line, rest = cutLine(rest)
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f.Header.Set(key, value)
	}

	body, counted, err := decodeBody(f.Header, rest, limits)
	if err != nil {
		return nil, err
	}
	if counted {
		// compat senders count the CRLF that follows the body.
		body = bytes.TrimSuffix(body, []byte(EOL))
	} else {
		body = trimEOL(body)
	}
	if len(body) > 0 {
		f.Body = append([]byte(nil), body...)
	}
	return f, nil
}

// decodeBody reports counted when the body was sliced by content-length.
func decodeBody(h *Header, rest []byte, limits Limits) ([]byte, bool, error) {
	n, ok, err := h.ContentLength()
	if ok && err == nil {
		if n > limits.MaxBodyBytes {
			return nil, false, ErrBodyTooLarge
		}
		if n <= len(rest) {
			return rest[:n], true, nil
		}
	}
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	if len(rest) > limits.MaxBodyBytes {
		return nil, false, ErrBodyTooLarge
	}
	return rest, false, nil
}

// cutLine splits at the first LF and drops a trailing CR from the line.
func cutLine(b []byte) (string, []byte) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return strings.TrimSuffix(string(b), "\r"), nil
	}
	return strings.TrimSuffix(string(b[:i]), "\r"), b[i+1:]
}

func trimEOL(b []byte) []byte {
	if bytes.HasSuffix(b, []byte(EOL)) {
		return b[:len(b)-len(EOL)]
	}
	return bytes.TrimSuffix(b, []byte{'\n'})
}
