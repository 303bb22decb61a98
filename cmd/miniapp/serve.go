package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Wang-tianhao/iframe-identity-go/bridge"
	"github.com/Wang-tianhao/iframe-identity-go/bridge/wsbridge"
	"github.com/Wang-tianhao/iframe-identity-go/conf"
	"github.com/Wang-tianhao/iframe-identity-go/feed"
	"github.com/Wang-tianhao/iframe-identity-go/jwtauth"
	"github.com/Wang-tianhao/iframe-identity-go/server"
	"github.com/Wang-tianhao/iframe-identity-go/session"
)

const (
	shutdownTimeout = 10 * time.Second
	dialTimeout     = 15 * time.Second
)

func serve(cmd *cobra.Command, config *conf.Configuration) error {
	logger := config.Logging.NewLogger()
	slog.SetDefault(logger)
	if level, _ := config.Logging.SlogLevel(); level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := buildVerifier(config, logger)
	if err != nil {
		return err
	}

	store := session.NewStore()
	listener, err := bridge.NewListener(bridge.Options{
		AllowedOrigins:       config.Bridge.AllowedOrigins,
		MessageType:          config.Bridge.MessageType,
		Mode:                 config.PayloadMode(),
		Verifier:             verifierOrNil(verifier),
		IdentityClaim:        config.Bridge.IdentityClaim,
		Session:              store,
		AnnounceTargetOrigin: config.Bridge.AnnounceTargetOrigin,
		Logger:               logger,
		OnIdentity: func(id session.Identity) {
			logger.Info("identity resolved", "origin", id.Origin, "from_handshake", id.FromHandshake)
		},
	})
	if err != nil {
		return err
	}

	frame := openFrame(ctx, config, logger)
	dispose, err := listener.Mount(frame)
	if err != nil {
		_ = frame.Close()
		return err
	}
	defer dispose()

	client, err := feed.NewClient(config.APIURL, store)
	if err != nil {
		return err
	}
	api := server.New(server.Options{
		Session:        store,
		Feed:           client,
		Listener:       listener,
		Verifier:       verifier,
		AllowedOrigins: config.Bridge.AllowedOrigins,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", config.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := frame.Run(egCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if egCtx.Err() == nil {
			// The host went away. The session keeps whatever it resolved.
			logger.Warn("parent window disconnected", "parent_origin", frame.ParentOrigin())
		}
		return nil
	})
	eg.Go(func() error {
		logger.Info("miniapp started", "addr", httpServer.Addr, "parent_origin", frame.ParentOrigin())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("miniapp stopped cleanly")
	return nil
}

// buildVerifier returns nil when no launch-token key is configured. Token
// payload mode requires one, which conf.Validate already enforced.
func buildVerifier(config *conf.Configuration, logger *slog.Logger) (*jwtauth.Verifier, error) {
	cfg, err := config.VerifierConfig(logger)
	if err != nil || cfg == nil {
		return nil, err
	}
	return jwtauth.NewVerifier(cfg), nil
}

// verifierOrNil keeps a nil *Verifier from becoming a non-nil interface.
func verifierOrNil(v *jwtauth.Verifier) bridge.TokenVerifier {
	if v == nil {
		return nil
	}
	return v
}

// openFrame dials the host. A host that cannot be reached leaves the app
// running top-level with an anonymous session.
func openFrame(ctx context.Context, config *conf.Configuration, logger *slog.Logger) *wsbridge.Frame {
	opts := wsbridge.Options{SelfOrigin: config.Bridge.SelfOrigin, Logger: logger}
	if config.Bridge.ParentURL == "" {
		logger.Info("no parent window configured, running top-level")
		return wsbridge.Standalone(opts)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	frame, err := wsbridge.Dial(dialCtx, config.Bridge.ParentURL, opts)
	if err != nil {
		logger.Warn("parent window unreachable, the session stays anonymous", "parent_url", config.Bridge.ParentURL, "error", err)
		return wsbridge.Standalone(opts)
	}
	return frame
}
