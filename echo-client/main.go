package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/portal-echo/config"
	"github.com/gosuda/portal-echo/wsclient"
)

var rootCmd = &cobra.Command{
	Use:   "echo-client",
	Short: "Terminal client for the websocket echo server (reconnects on unexpected disconnect)",
	RunE:  runClient,
}

var (
	flagConfig         string
	flagOrigin         string
	flagMaxReconnect   int
	flagReconnectDelay time.Duration
	flagLogLevel       string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "optional TOML config file")
	flags.StringVar(&flagOrigin, "origin", "http://127.0.0.1:8000", "page origin of the echo server; https selects wss")
	flags.IntVar(&flagMaxReconnect, "max-reconnect", wsclient.DefaultMaxReconnectAttempts, "automatic reconnect attempts after an unclean close (0 disables)")
	flags.DurationVar(&flagReconnectDelay, "reconnect-delay", wsclient.DefaultReconnectDelay, "delay before each reconnect attempt")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	cc := &cfg.Client
	if flags.Changed("origin") {
		cc.Origin = flagOrigin
	}
	if flags.Changed("max-reconnect") {
		cc.MaxReconnect = flagMaxReconnect
	}
	if flags.Changed("reconnect-delay") {
		cc.ReconnectDelay = flagReconnectDelay
	}
	// log.level in the shared config targets the server; the client uses its flag
	cfg.Log.Level = flagLogLevel
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := newConsole(os.Stdout)
	ctrl := wsclient.NewController(clientOptions(cfg.Client), &wsclient.GorillaDialer{}, con)
	defer ctrl.Close()

	con.println("* Commands: /connect, /disconnect, /retry, /quit")
	ctrl.Connect()
	if err := runInput(ctx, os.Stdin, ctrl, con); err != nil {
		return err
	}
	ctrl.Disconnect()
	return nil
}

func clientOptions(cc config.ClientConfig) wsclient.Options {
	attempts := cc.MaxReconnect
	if attempts == 0 {
		attempts = -1
	}
	return wsclient.Options{
		Origin:               cc.Origin,
		MaxReconnectAttempts: attempts,
		ReconnectDelay:       cc.ReconnectDelay,
	}
}
