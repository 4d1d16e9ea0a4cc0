// Command mitmproxy runs the intercepting HTTP/HTTPS proxy: it loads the
// configured CA material and starts the accept loop. Wiring
// OnRequest/OnResponse callbacks is left to embedders of the library
// packages; this binary runs with no hooks installed, matching spec.md's
// "console pretty-printer is out of scope" boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tryunoo/mitmproxy/pkg/certforge"
	"github.com/tryunoo/mitmproxy/pkg/config"
	"github.com/tryunoo/mitmproxy/pkg/handler"
	"github.com/tryunoo/mitmproxy/pkg/server"
	"github.com/tryunoo/mitmproxy/pkg/transport"
)

func main() {
	configPath := flag.String("config", "proxy.conf", "path to the JSON proxy configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ca, err := certforge.LoadCA(cfg.PrivateKeyPath, cfg.CACertPath)
	if err != nil {
		return fmt.Errorf("loading CA material: %w", err)
	}

	var proxyCfg *transport.ProxyConfig
	if cfg.UpstreamProxyURL != "" {
		proxyCfg, err = transport.ParseProxyURL(cfg.UpstreamProxyURL)
		if err != nil {
			return fmt.Errorf("parsing upstream_proxy_url: %w", err)
		}
	}

	h := &handler.Handler{
		CA:     ca,
		Forger: certforge.NewForger(ca),
		Auth: handler.AuthConfig{
			Enabled:  cfg.Auth,
			Username: cfg.AuthUserName,
			Password: cfg.AuthPassword,
		},
		Proxy:  proxyCfg,
		Logger: logger,
	}

	srv := &server.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: h,
		Logger:  logger,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.ListenAndServe(ctx)
}
