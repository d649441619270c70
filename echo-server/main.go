package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"

	"github.com/gosuda/portal-echo/config"
)

var rootCmd = &cobra.Command{
	Use:   "echo-server",
	Short: "Portal demo: websocket echo server with a browser client",
	RunE:  runEcho,
}

var (
	flagConfig      string
	flagServerURLs  []string
	flagPort        int
	flagName        string
	flagDataPath    string
	flagCredKey     string
	flagHide        bool
	flagDescription string
	flagTags        []string
	flagHistory     int
	flagLogLevel    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "optional TOML config file")
	flags.StringSliceVar(&flagServerURLs, "server-url", strings.Split(os.Getenv("RELAY"), ","), "relay websocket URL(s); repeat or comma-separated (from env RELAY if set)")
	flags.IntVar(&flagPort, "port", 8000, "local HTTP port (negative to disable)")
	flags.StringVar(&flagName, "name", "echo", "backend display name")
	flags.StringVar(&flagDataPath, "data-path", "", "optional directory to persist the echo transcript via PebbleDB")
	flags.StringVar(&flagCredKey, "cred-key", "", "optional credential key to use for the listener (base64 encoded)")
	flags.BoolVar(&flagHide, "hide", false, "hide this lease from portal listings")
	flags.StringVar(&flagDescription, "description", "Portal demo: websocket echo", "lease description")
	flags.StringSliceVar(&flagTags, "tags", []string{"echo", "websocket"}, "lease tags")
	flags.IntVar(&flagHistory, "history", 100, "number of recent messages kept in memory")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute echo command")
	}
}

// loadConfig layers explicitly set flags over the file/env configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	s := &cfg.Server
	if flags.Changed("server-url") || len(s.RelayURLs) == 0 {
		s.RelayURLs = flagServerURLs
	}
	if flags.Changed("port") {
		s.Port = flagPort
	}
	if flags.Changed("name") {
		s.Name = flagName
	}
	if flags.Changed("data-path") {
		s.DataPath = flagDataPath
	}
	if flags.Changed("cred-key") {
		s.CredKey = flagCredKey
	}
	if flags.Changed("hide") {
		s.Hide = flagHide
	}
	if flags.Changed("description") {
		s.Description = flagDescription
	}
	if flags.Changed("tags") {
		s.Tags = flagTags
	}
	if flags.Changed("history") {
		s.HistoryLimit = flagHistory
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runEcho(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	sc := cfg.Server

	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub(sc.HistoryLimit)

	var store *transcriptStore
	if sc.DataPath != "" {
		s, err := openTranscriptStore(sc.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("[echo] open store failed; running in memory only")
		} else {
			store = s
			if entries, err := store.LoadRecent(sc.HistoryLimit); err != nil {
				log.Warn().Err(err).Msg("[echo] load history failed")
			} else if len(entries) > 0 {
				h.bootstrap(entries)
				log.Info().Msgf("[echo] loaded %d recent messages from store", len(entries))
			}
			h.attachStore(store)
		}
	}

	handler := NewHandler(sc.Name, h)

	var clients []*sdk.RDClient
	var listeners []net.Listener
	if relays := sc.RelayList(); len(relays) > 0 {
		cred := sdk.NewCredential()
		if sc.CredKey != "" {
			key, err := base64.StdEncoding.DecodeString(sc.CredKey)
			if err != nil {
				return fmt.Errorf("decode cred key: %w", err)
			}
			cred2, err := cryptoops.NewCredentialFromPrivateKey(key)
			if err != nil {
				return fmt.Errorf("new credential from private key: %w", err)
			}
			cred = cred2
		}
		for _, u := range relays {
			relayURL := u
			client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{relayURL} })
			if err != nil {
				log.Error().Err(err).Str("url", relayURL).Msg("[echo] new relay client failed")
				continue
			}
			clients = append(clients, client)
			ln, err := client.Listen(cred, sc.Name, []string{"http/1.1"},
				sdk.WithDescription(sc.Description),
				sdk.WithHide(sc.Hide),
				sdk.WithTags(sc.Tags),
			)
			if err != nil {
				return fmt.Errorf("listen (%s): %w", relayURL, err)
			}
			listeners = append(listeners, ln)
		}
	}
	if len(listeners) == 0 && sc.Port < 0 {
		return fmt.Errorf("nothing to serve: no relay listener and local port disabled")
	}

	// Serve over each relay listener
	for i, ln := range listeners {
		idx, l := i, ln
		go func() {
			if err := http.Serve(l, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Int("listener", idx).Msg("[echo] relay http error")
			}
		}()
	}

	var httpSrv *http.Server
	if sc.Port >= 0 {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", sc.Port), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[echo] serving locally at http://127.0.0.1:%d", sc.Port)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[echo] local http stopped")
				stop()
			}
		}()
	}

	// Unified shutdown watcher
	go func() {
		<-ctx.Done()
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range clients {
			_ = c.Close()
		}
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("[echo] http server shutdown error")
			}
		}
	}()

	<-ctx.Done()
	h.closeAll()
	h.wait()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[echo] store close error")
		}
	}
	log.Info().Msg("[echo] shutdown complete")
	return nil
}
