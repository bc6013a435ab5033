package client

import (
	"time"

	stompframe "github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"

	"github.com/danmuck/stompws/internal/protocol/frame"
	"github.com/danmuck/stompws/internal/protocol/session"
)

var ErrBrokerError = errors.New("client: broker error")

// Message is a decoded MESSAGE frame.
type Message struct {
	Subscription string
	Destination  string
	MessageID    string
	ContentType  string
	Header       *frame.Header
	Body         []byte
}

// MessageHandler runs on the session goroutine; it should not block for long.
type MessageHandler func(Message)

func newMessage(f *frame.Frame) Message {
	return Message{
		Subscription: f.Header.Get(stompframe.Subscription),
		Destination:  f.Header.Get(stompframe.Destination),
		MessageID:    f.Header.Get(stompframe.MessageId),
		ContentType:  f.Header.Get(stompframe.ContentType),
		Header:       f.Header,
		Body:         f.Body,
	}
}

func (c *Client) dispatch(signals session.Signals, f *frame.Frame) {
	switch f.Command {
	case stompframe.CONNECTED:
		c.connected(f)
	case stompframe.MESSAGE:
		msg := newMessage(f)
		if h := c.handlerFor(msg.Subscription); h != nil {
			h(msg)
		} else {
			c.log.Debug().Str("subscription", msg.Subscription).Msg("message without handler")
		}
		signals.MessageArrived.Notify()
	case stompframe.ERROR:
		c.reportError(session.OpBroker, errors.Wrapf(ErrBrokerError, "%s: %s",
			f.Header.Get(stompframe.Message), f.Body))
	case stompframe.RECEIPT:
		id := f.Header.Get(stompframe.ReceiptId)
		if item, ok := c.receipts.Resolve(id); ok {
			c.log.Info().
				Str("receipt", id).
				Str("command", item.Command).
				Dur("latency", time.Since(item.QueuedAt)).
				Msg("receipt")
		} else {
			c.log.Debug().Str("receipt", id).Msg("unmatched receipt")
		}
		signals.ReceiptArrived.Notify()
	default:
		c.log.Debug().Str("command", f.Command).Msg("ignored frame")
	}
}

func (c *Client) connected(f *frame.Frame) {
	event := c.log.Info().
		Str("version", f.Header.Get(stompframe.Version)).
		Str("server", f.Header.Get(stompframe.Server))
	if hb := f.Header.Get(stompframe.HeartBeat); hb != "" {
		send, recv, err := stompframe.ParseHeartBeat(hb)
		if err != nil {
			c.log.Debug().Err(err).Str("heart_beat", hb).Msg("bad heart-beat header")
		} else {
			event = event.Dur("heart_beat_send", send).Dur("heart_beat_recv", recv)
		}
	}
	event.Msg("connected")
}

// handlerFor prefers the subscription's own handler over the default one.
func (c *Client) handlerFor(subscription string) MessageHandler {
	if h := c.subs.handler(subscription); h != nil {
		return h
	}
	if p := c.handler.Load(); p != nil {
		return *p
	}
	return nil
}
