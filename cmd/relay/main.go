package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/odit-bit/relay/chat"
	"github.com/odit-bit/relay/daylog"
	"github.com/odit-bit/relay/internal/config"
	"github.com/odit-bit/relay/internal/monolith"
	"github.com/odit-bit/relay/rabbit"
	"github.com/odit-bit/relay/rabbit/rlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		mq      *rabbit.Client
		logPub  *rlog.AsyncPublisher
		mirror  *rabbit.Publisher
		chatMod = &chat.Module{}
	)
	if cfg.AMQPURL != "" {
		mq, err = rabbit.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer mq.Close()

		lp, err := mq.LogPublisher()
		if err != nil {
			return err
		}
		defer lp.Close()
		logPub = rlog.NewAsyncPublisher(lp, 1024)
		defer logPub.Close()

		mirror, err = mq.Publisher(cfg.AMQPExchange, amqp.ExchangeFanout)
		if err != nil {
			return err
		}
		defer mirror.Close()
	}

	var pub rlog.Publisher
	if logPub != nil {
		pub = logPub
	}
	logger, err := rlog.New(os.Stdout, cfg.LogFormat, cfg.LogLevel, pub)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if mirror != nil {
		chatMod.Forwarders = append(chatMod.Forwarders, rabbit.NewMirror(mirror, logger.With("module", "mirror")))
	}

	archive, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	chatMod.Archive = archive

	root := Root{
		cfg:     cfg,
		log:     logger,
		modules: []monolith.Module{chatMod},
		mux:     chi.NewMux(),
	}
	root.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	return root.Run(ctx)
}

func openArchive(cfg config.Config, log *slog.Logger) (chat.Archive, error) {
	log = log.With("module", "daylog")
	switch cfg.Storage {
	case config.StorageClover:
		return daylog.OpenCloverLog(cfg.DataDir, log)
	default:
		return daylog.OpenFileLog(cfg.DataDir, cfg.Fsync, log)
	}
}

type Root struct {
	cfg     config.Config
	log     *slog.Logger
	modules []monolith.Module
	mux     *chi.Mux
}

func (s *Root) Config() config.Config { return s.cfg }

func (s *Root) Logger() *slog.Logger { return s.log }

func (s *Root) Mux() chi.Router { return s.mux }

// Run starts every module, serves until ctx is done, then shuts the server
// and modules down.
func (s *Root) Run(ctx context.Context) error {
	for _, mod := range s.modules {
		if err := mod.Start(ctx, s); err != nil {
			return err
		}
	}

	srv := http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	errC := make(chan error, 1)
	go func() {
		s.log.Info("relay listening", "addr", srv.Addr, "storage", s.cfg.Storage)
		errC <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		s.log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = errors.Join(err, srv.Shutdown(shutdownCtx))
	for _, mod := range s.modules {
		err = errors.Join(err, mod.Stop(shutdownCtx))
	}
	return err
}
