// widget-host - demo server embedding the chat widget core.
// Serves a storefront-like page and drives the widget over a JSON API plus
// a websocket state stream.
//
// Environment variables:
//
//	CHATWIDGET_CONFIG_JSON        - Full config JSON (alternative to config file)
//	CHATWIDGET_BACKEND_WEBSITE_KEY - Website access key (overrides config)
//	CHATWIDGET_BACKEND_ENDPOINTS  - Ordered backend endpoint list
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopglue/chatwidget/pkg/cache"
	"github.com/shopglue/chatwidget/pkg/client"
	"github.com/shopglue/chatwidget/pkg/config"
	"github.com/shopglue/chatwidget/pkg/logger"
	"github.com/shopglue/chatwidget/pkg/widget"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "widget-host",
		Short: "Demo host server for the embedded chat widget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config.json", "config file (.json or .toml)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger.SetLevel(logLevel)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	var sessionCache *cache.Store
	if cfg.Cache.Enabled {
		sessionCache, err = cache.Open(cfg.CachePath())
		if err != nil {
			logger.WarnCF("host", "session cache unavailable, running without it",
				map[string]interface{}{"error": err.Error()})
			sessionCache = nil
		} else {
			defer sessionCache.Close()
		}
	}

	backend := client.New(cfg.EndpointList(), cfg.Backend.WebsiteKey,
		time.Duration(cfg.Backend.RequestTimeoutMS)*time.Millisecond)

	var srv *Server
	w := widget.New(widget.Options{
		Config:  cfg,
		Backend: backend,
		Cache:   sessionCache,
		Navigator: func(url string) {
			if srv != nil {
				srv.BroadcastNavigate(url)
			}
		},
		Page: func() (string, string) {
			return cfg.Host.CurrentPage, ""
		},
	})
	defer w.Shutdown()

	// A failed bootstrap leaves the widget absent, not broken: the page
	// still serves, the launcher just never appears.
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := w.Bootstrap(bootCtx); err != nil {
		logger.WarnCF("host", "widget bootstrap failed, serving without widget",
			map[string]interface{}{"error": err.Error()})
	}
	cancel()

	srv = NewServer(cfg, w)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	logger.InfoCF("host", "shutting down", nil)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return srv.Stop(shutdownCtx)
}
