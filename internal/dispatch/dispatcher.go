// Package dispatch pulls incoming chat events from a source and fans them
// out to a worker pool. Events for the same chat are serialized through a
// per-chat lock, so the handler always observes one mutation at a time per
// conversation while distinct chats proceed in parallel.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/event"
	"trivia-game-bot/internal/pkg/lock"
)

// Source produces batches of incoming events. Fetch blocks until at least
// one event is available, the source fails, or ctx is cancelled.
type Source interface {
	Fetch(ctx context.Context) ([]event.Event, error)
}

// Handler processes a single event.
type Handler interface {
	HandleEvent(ctx context.Context, ev event.Event) error
}

const (
	defaultWorkers   = 8
	defaultQueueSize = 1024
)

// fetchBackoff is the pause before retrying a failed fetch.
var fetchBackoff = 3 * time.Second

// Config tunes the dispatcher pool.
type Config struct {
	Workers   int
	QueueSize int
	// StopTimeout bounds how long Stop waits for in-flight events.
	StopTimeout time.Duration
}

type Dispatcher struct {
	source  Source
	handler Handler
	locks   *lock.ChatLock
	cfg     Config

	queue  chan event.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New creates a Dispatcher. The locks instance serializes handler calls per
// chat; pass the same instance to every component that invokes the handler
// outside the dispatcher (timer callbacks do), or nil when the dispatcher is
// the sole caller.
func New(source Source, handler Handler, locks *lock.ChatLock, cfg Config) *Dispatcher {
	if locks == nil {
		locks = lock.NewChatLock()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Dispatcher{
		source:  source,
		handler: handler,
		locks:   locks,
		cfg:     cfg,
		queue:   make(chan event.Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the fetch loop and the worker pool. It returns immediately;
// use Stop for shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	// Workers keep a non-cancellable context so events already queued at
	// shutdown still run against live stores; Stop bounds the drain instead.
	handleCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(handleCtx)
	}

	go d.fetchLoop(ctx)

	log.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Msg("Dispatcher started")
}

// Stop cancels fetching and waits for in-flight events up to StopTimeout.
// Queued events that no worker picked up before the deadline are dropped.
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	timeout := d.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-finished:
		log.Info().Msg("Dispatcher stopped")
	case <-time.After(timeout):
		log.Warn().Msg("Dispatcher stop timed out, dropping queued events")
	}
}

func (d *Dispatcher) fetchLoop(ctx context.Context) {
	defer close(d.done)
	defer close(d.queue)

	for {
		events, err := d.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Failed to fetch events, retrying")
			select {
			case <-time.After(fetchBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		for _, ev := range events {
			select {
			case d.queue <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for ev := range d.queue {
		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev event.Event) {
	err := d.locks.WithLock(ev.ChatID, func() error {
		return d.handler.HandleEvent(ctx, ev)
	})
	if err != nil {
		log.Error().
			Err(err).
			Int64("chat_id", ev.ChatID).
			Int64("user_id", ev.UserID).
			Int("kind", int(ev.Kind)).
			Msg("Failed to handle event")
	}
}
