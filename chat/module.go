package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/odit-bit/relay/internal/monolith"
)

// Forwarder consumes broadcast frames outside the process. Forward returns
// when frames is closed or ctx is done.
type Forwarder interface {
	Forward(ctx context.Context, frames <-chan []byte) error
}

type Module struct {
	Archive    Archive
	Forwarders []Forwarder

	store *Store
	hub   *Broadcaster
	wg    sync.WaitGroup
}

// Start loads history before any route is mounted, so no connection is
// served an incomplete window.
func (mod *Module) Start(ctx context.Context, mono monolith.Monolith) error {
	if mod.Archive == nil {
		return errors.New("chat: module needs an archive")
	}
	cfg := mono.Config()
	log := mono.Logger().With("module", "chat")

	mod.store = NewStore(mod.Archive, StoreOptions{
		Cap: cfg.MaxStoredMemory,
		Limits: Limits{
			MaxNick:     cfg.MaxNickLength,
			MaxText:     cfg.MaxTextLength,
			DefaultNick: cfg.DefaultNick,
		},
		Logger: log,
	})
	if err := mod.store.Load(cfg.PreloadDays); err != nil {
		log.Warn("history degraded", "error", err)
	}

	mod.hub = NewBroadcaster(cfg.SubscriberBuffer, log)
	mod.store.OnAccept(mod.hub.Publish)

	for _, f := range mod.Forwarders {
		mod.wg.Add(1)
		go func() {
			defer mod.wg.Done()
			mod.runForwarder(ctx, f, log)
		}()
	}

	h := NewHandler(mod.store, mod.hub, HandlerOptions{
		AllowedOrigins: cfg.Origins(),
		RateBurst:      cfg.RateBurst,
		RateInterval:   cfg.RateInterval,
	}, log)
	h.Register(mono.Mux())
	return nil
}

// runForwarder feeds f from its own subscription. A forwarder that falls
// behind is dropped like any subscriber; it is subscribed again until ctx
// is done or the broadcaster is closed. Frames published while it was
// dropped are lost.
func (mod *Module) runForwarder(ctx context.Context, f Forwarder, log *slog.Logger) {
	for {
		sub := mod.hub.Subscribe()
		err := f.Forward(ctx, sub.C)
		mod.hub.Unsubscribe(sub)
		if err != nil {
			log.Error("forwarder stopped", "subscriber", sub.ID, "error", err)
			return
		}
		if ctx.Err() != nil || mod.hub.Closed() {
			return
		}
		log.Warn("forwarder fell behind, subscribing again", "subscriber", sub.ID)
	}
}

// Stop closes every subscription, waits for forwarders and closes the
// archive when it can be closed.
func (mod *Module) Stop(ctx context.Context) error {
	if mod.hub != nil {
		mod.hub.Close()
	}

	done := make(chan struct{})
	go func() {
		mod.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if c, ok := mod.Archive.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

func (mod *Module) Store() *Store { return mod.store }

func (mod *Module) Broadcaster() *Broadcaster { return mod.hub }
