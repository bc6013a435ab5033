package frame

import (
	"strconv"

	stompframe "github.com/go-stomp/stomp/v3/frame"
)

const (
	AcceptVersion = "1.1"
	HeartBeatOff  = "0,0"
	DefaultAck    = "auto"

	// anonymous is sent in place of missing credentials; the target broker
	// rejects CONNECT frames without login/passcode headers.
	anonymous = "None"
)

// Connect builds a CONNECT frame. Empty credentials are sent as "None".
func Connect(host, login, passcode string) *Frame {
	if login == "" {
		login = anonymous
	}
	if passcode == "" {
		passcode = anonymous
	}
	return stompframe.New(stompframe.CONNECT,
		stompframe.AcceptVersion, AcceptVersion,
		stompframe.Host, host,
		stompframe.HeartBeat, HeartBeatOff,
		stompframe.Login, login,
		stompframe.Passcode, passcode,
	)
}

func Subscribe(id int, destination, ack string) *Frame {
	if ack == "" {
		ack = DefaultAck
	}
	return stompframe.New(stompframe.SUBSCRIBE,
		stompframe.Id, strconv.Itoa(id),
		stompframe.Destination, destination,
		stompframe.Ack, ack,
	)
}

// Send builds a SEND frame whose content-length follows the codec mode.
func (c Codec) Send(destination, contentType string, body []byte) *Frame {
	f := stompframe.New(stompframe.SEND,
		stompframe.Destination, destination,
		stompframe.ContentType, contentType,
		stompframe.ContentLength, strconv.Itoa(c.contentLength(body)),
	)
	if body == nil {
		body = []byte{}
	}
	f.Body = body
	return f
}

// contentLength in compat mode counts the body, the line ending that closes
// it, and the frame terminator.
func (c Codec) contentLength(body []byte) int {
	if c.mode == ModeStrict {
		return len(body)
	}
	if body == nil {
		return 1
	}
	return len(body) + 2
}

func Unsubscribe(id int) *Frame {
	return stompframe.New(stompframe.UNSUBSCRIBE,
		stompframe.Id, strconv.Itoa(id),
	)
}

func Disconnect(receipt int) *Frame {
	return stompframe.New(stompframe.DISCONNECT,
		stompframe.Receipt, strconv.Itoa(receipt),
	)
}

// IsInbound reports whether command is one the client dispatches.
func IsInbound(command string) bool {
	switch command {
	case stompframe.CONNECTED, stompframe.MESSAGE, stompframe.RECEIPT, stompframe.ERROR:
		return true
	}
	return false
}
