package filtercache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	listenMinReconnect = 10 * time.Second
	listenMaxReconnect = time.Minute
	listenPingInterval = 90 * time.Second
)

// notifyPayload is the NOTIFY payload emitted by the store trigger,
// identifying which table changed.
type notifyPayload struct {
	Table string `json:"table"`
}

// Watcher holds the dedicated LISTEN connection to the store and triggers
// an out-of-band list refresh on every change notification. The refresh
// itself still goes through the changed-since check, so notification bursts
// collapse into a single reload.
type Watcher struct {
	cache    *Cache
	listener *pq.Listener
	channel  string
	onFatal  func(error)
}

// NewWatcher opens the notification connection and subscribes to channel.
// onFatal is invoked when the watcher gives up; per the engine's safety
// policy that raises the shared stop signal.
func NewWatcher(dsn, channel string, cache *Cache, onFatal func(error)) (*Watcher, error) {
	listener := pq.NewListener(dsn, listenMinReconnect, listenMaxReconnect,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Int("event", int(event)).Msg("Notification listener connection event")
			}
		})

	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen on %q: %w", channel, err)
	}

	return &Watcher{
		cache:    cache,
		listener: listener,
		channel:  channel,
		onFatal:  onFatal,
	}, nil
}

// Run consumes notifications until ctx is cancelled. It owns the blocking
// poll; list reload queries run on the shared pool, never on this
// connection.
func (w *Watcher) Run(ctx context.Context) {
	log.Info().Str("channel", w.channel).Msg("Watching for list change notifications")

	ping := time.NewTicker(listenPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case notification, ok := <-w.listener.Notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established;
			// notifications may have been missed while it was down.
			if notification == nil {
				log.Info().Msg("Notification listener reconnected, refreshing lists")
				w.refresh(ctx)
				continue
			}
			if !w.isListChange(notification.Extra) {
				continue
			}
			log.Info().Msg("List change notification received, refreshing lists")
			w.refresh(ctx)

		case <-ping.C:
			if err := w.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("Notification listener ping failed")
				if w.onFatal != nil {
					w.onFatal(fmt.Errorf("notification listener lost: %w", err))
				}
				return
			}
		}
	}
}

func (w *Watcher) isListChange(payload string) bool {
	if payload == "" {
		return false
	}

	var parsed notifyPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("Undecodable notification payload")
		return false
	}

	return parsed.Table == "lists"
}

func (w *Watcher) refresh(ctx context.Context) {
	if err := w.cache.RefreshLists(ctx); err != nil {
		log.Error().Err(err).Msg("Push-triggered list refresh failed")
		if w.onFatal != nil {
			w.onFatal(err)
		}
	}
}

// Close releases the notification connection.
func (w *Watcher) Close() error {
	return w.listener.Close()
}
