package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danmuck/stompws/internal/config"
	"github.com/danmuck/stompws/internal/logging"
	"github.com/danmuck/stompws/internal/observability"
	"github.com/danmuck/stompws/internal/protocol/frame"
	"github.com/danmuck/stompws/internal/protocol/session"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	host        string
	port        string
	path        string
	login       string
	passcode    string
	codec       string
	metricsAddr string

	metrics *http.Server
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "stompctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "stompctl",
		Short:         "STOMP over websocket client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			observability.InitLogger("stompctl")
			observability.RegisterMetrics()
			return opts.startMetrics()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.stopMetrics()
		},
	}

	opts.bind(root.PersistentFlags())
	root.AddCommand(
		demoCmd(opts),
		chatCmd(opts),
		configCmd(),
		versionCmd(),
	)
	return root
}

func (o *options) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configPath, "config", "c", "", "path to a config.toml")
	flags.StringVar(&o.host, "host", config.DefaultHost, "broker host")
	flags.StringVar(&o.port, "port", config.DefaultPort, "broker port")
	flags.StringVar(&o.path, "path", config.DefaultPath, "websocket endpoint path")
	flags.StringVar(&o.login, "login", "", "STOMP login")
	flags.StringVar(&o.passcode, "passcode", "", "STOMP passcode")
	flags.StringVar(&o.codec, "codec", string(frame.ModeCompat), "frame codec: compat|strict")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

// clientConfig loads --config when given, then applies explicitly set flags.
func (o *options) clientConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if o.configPath != "" {
		loaded, err := config.LoadClientConfig(o.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("path") {
		cfg.Path = o.path
	}
	if flags.Changed("login") {
		cfg.Login = o.login
	}
	if flags.Changed("passcode") {
		cfg.Passcode = o.passcode
	}
	if flags.Changed("codec") {
		mode, err := frame.ParseMode(o.codec)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg.Session.Codec = mode
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func (o *options) startMetrics() error {
	if o.metricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	o.metrics = &http.Server{
		Addr:              o.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server stopped")
		}
	}(o.metrics)
	log.Info().Str("addr", o.metricsAddr).Msg("serving metrics")
	return nil
}

func (o *options) stopMetrics() error {
	if o.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return o.metrics.Shutdown(ctx)
}

// reportError surfaces session and broker errors on stderr.
func reportError(op session.Op, err error) {
	fmt.Fprintf(os.Stderr, "stompctl: %s: %v\n", op, err)
}
