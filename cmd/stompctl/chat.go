package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/danmuck/stompws/internal/client"
	"github.com/danmuck/stompws/internal/config"
)

const (
	chatSubscriptionID = 147
	chatReceiptID      = 123
)

type chatOptions struct {
	sender      string
	topic       string
	destination string
	timeout     time.Duration
}

func chatCmd(opts *options) *cobra.Command {
	var chat chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send stdin lines to a topic and print what arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.clientConfig(cmd)
			if err != nil {
				return err
			}
			ccfg := client.Config{Session: cfg.Session, OnError: reportError}
			return runChat(cmd.Context(), cfg, ccfg, chat, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&chat.sender, "sender", os.Getenv("USER"), "sender name added to outgoing messages")
	flags.StringVar(&chat.topic, "topic", "/topic/topic1", "topic to subscribe to")
	flags.StringVar(&chat.destination, "destination", "/app/topic1", "destination for outgoing messages")
	flags.DurationVar(&chat.timeout, "shutdown-timeout", 10*time.Second, "deadline for the disconnect receipt and close")
	return cmd
}

func runChat(ctx context.Context, cfg config.ClientConfig, ccfg client.Config, chat chatOptions, in io.Reader, out io.Writer) error {
	c := client.New(ccfg)
	if err := c.Connect(ctx, cfg.Host, cfg.Port, cfg.Path, cfg.Login, cfg.Passcode); err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
		_ = c.WaitForShutdown(context.Background())
	}()

	err := c.SubscribeFunc(ctx, chatSubscriptionID, chat.topic, "auto", func(m client.Message) {
		fmt.Fprintln(out, chatText(m.Body))
	})
	if err != nil {
		return err
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	// A Scan blocked on in outlives ctx unless in can be closed.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			body, err := chatBody(chat.sender, text)
			if err != nil {
				return err
			}
			if err := c.Send(ctx, chat.destination, "application/JSON", body); err != nil {
				return err
			}
		case <-ctx.Done():
			if closer, ok := in.(io.Closer); ok {
				_ = closer.Close()
			}
			break loop
		}
	}
	select {
	case err := <-readErr:
		if err != nil {
			return err
		}
	default:
	}

	return leaveChat(c, chat.timeout)
}

// leaveChat runs on a fresh deadline so an interrupt still disconnects cleanly.
func leaveChat(c *client.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.Unsubscribe(ctx, chatSubscriptionID); err != nil {
		return err
	}
	receipt, err := c.ReceiptWaiter()
	if err != nil {
		return err
	}
	if err := c.Disconnect(ctx, chatReceiptID); err != nil {
		return err
	}
	if err := receipt.Wait(ctx); err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return err
	}
	return c.WaitForShutdown(ctx)
}

func chatBody(sender, text string) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if sender = strings.TrimSpace(sender); sender != "" {
		if body, err = sjson.SetBytes(body, "sender", sender); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(body, "message", text)
}

// chatText shows the message field of JSON bodies, or the raw body.
func chatText(body []byte) string {
	msg := gjson.GetBytes(body, "message")
	if !msg.Exists() {
		return string(body)
	}
	if sender := gjson.GetBytes(body, "sender"); sender.Exists() && sender.String() != "" {
		return sender.String() + ": " + msg.String()
	}
	return msg.String()
}
