package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/danmuck/stompws/internal/client"
	"github.com/danmuck/stompws/internal/config"
)

const (
	demoSubscriptionID = 452
	demoTopic          = "/topic/greetings"
	demoDestination    = "/app/hello"
	demoReceiptID      = 123
)

type demoOptions struct {
	name    string
	timeout time.Duration
}

func demoCmd(opts *options) *cobra.Command {
	var demo demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Greet the broker once and disconnect with a receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.clientConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), demo.timeout)
			defer cancel()
			return runDemo(ctx, cfg, client.Config{Session: cfg.Session, OnError: reportError}, demo, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&demo.name, "name", "Fred", "name sent in the greeting")
	cmd.Flags().DurationVar(&demo.timeout, "timeout", time.Minute, "overall deadline")
	return cmd
}

func runDemo(ctx context.Context, cfg config.ClientConfig, ccfg client.Config, demo demoOptions, out io.Writer) error {
	c := client.New(ccfg)
	c.SetMessageHandler(func(m client.Message) {
		fmt.Fprintf(out, "%s <- %s", m.Destination, renderBody(m.Body))
	})

	if err := c.Connect(ctx, cfg.Host, cfg.Port, cfg.Path, cfg.Login, cfg.Passcode); err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
		_ = c.WaitForShutdown(context.Background())
	}()

	if err := c.Subscribe(ctx, demoSubscriptionID, demoTopic, "auto"); err != nil {
		return err
	}
	greeting, err := c.MessageWaiter()
	if err != nil {
		return err
	}
	body, err := sjson.SetBytes([]byte(`{}`), "name", demo.name)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, demoDestination, "application/json", body); err != nil {
		return err
	}
	if err := greeting.Wait(ctx); err != nil {
		return err
	}

	if err := c.Unsubscribe(ctx, demoSubscriptionID); err != nil {
		return err
	}
	receipt, err := c.ReceiptWaiter()
	if err != nil {
		return err
	}
	if err := c.Disconnect(ctx, demoReceiptID); err != nil {
		return err
	}
	if err := receipt.Wait(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "receipt %d confirmed\n", demoReceiptID)

	if err := c.Close(); err != nil {
		return err
	}
	return c.WaitForShutdown(ctx)
}

// renderBody pretty-prints JSON bodies and passes anything else through.
func renderBody(body []byte) []byte {
	if gjson.ValidBytes(body) {
		return pretty.Pretty(body)
	}
	return append(append([]byte(nil), body...), '\n')
}
