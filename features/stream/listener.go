package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fedipull/internal/collector"
	"fedipull/internal/config"

	"github.com/rs/zerolog/log"
)

const (
	eventPrefix   = "event:"
	dataPrefix    = "data:"
	commentPrefix = ":"

	updateEvent = "update"

	// Firehose payloads are single JSON lines; 1 MiB covers even posts
	// with very large attachment metadata.
	maxLineSize = 1 << 20
)

var errUnexpectedStatus = errors.New("unexpected response status")

// Submit hands one raw `update` payload to the dispatch pipeline. It must
// not block on evaluation; a false return means the pipeline is shutting
// down.
type Submit func(payload []byte) bool

// Listener consumes the SSE firehose indefinitely. Disconnects, non-2xx
// responses and read errors are logged and retried with a fixed delay;
// only the stop signal ends the loop.
type Listener struct {
	cfg    *config.FirehoseConfig
	client *http.Client
	submit Submit
}

// NewListener builds a Listener feeding submit. The client has no overall
// timeout: the stream is meant to stay open forever.
func NewListener(cfg *config.FirehoseConfig, submit Submit) *Listener {
	return &Listener{
		cfg:    cfg,
		client: &http.Client{},
		submit: submit,
	}
}

// Run connects, reads until failure, and reconnects after the configured
// delay, until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	log.Info().Str("url", l.cfg.URL).Msg("Listening to firehose")

	for {
		err := l.attempt(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Firehose listener stopped")
			return
		}

		log.Warn().Err(err).
			Dur("delay", l.cfg.ReconnectDelay).
			Msg("Firehose connection lost, reconnecting")

		if mc, _ := collector.GetMetricsCollector(); mc != nil {
			mc.IncrementStreamReconnects()
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Firehose listener stopped")
			return
		case <-time.After(l.cfg.ReconnectDelay):
		}
	}
}

// attempt performs one connect-and-read cycle. It returns when the stream
// breaks or ctx is cancelled (cancellation closes the response body through
// the request context).
func (l *Listener) attempt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build firehose request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", l.cfg.GetUserAgent())
	if l.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.Token)
	}

	rsp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect firehose: %w", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", errUnexpectedStatus, rsp.Status)
	}

	return l.readEvents(rsp)
}

// readEvents runs the SSE framing state machine over the response body.
// Only `event: update` payloads are submitted; comments keep the
// connection alive, blank lines and new event names reset the pending
// event.
func (l *Listener) readEvents(rsp *http.Response) error {
	scanner := bufio.NewScanner(rsp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	pendingEvent := ""

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			pendingEvent = ""

		case strings.HasPrefix(line, commentPrefix):
			// keep-alive

		case strings.HasPrefix(line, eventPrefix):
			pendingEvent = strings.TrimSpace(line[len(eventPrefix):])

		case strings.HasPrefix(line, dataPrefix):
			if pendingEvent != updateEvent {
				continue
			}
			payload := []byte(strings.TrimSpace(line[len(dataPrefix):]))
			pendingEvent = ""

			if mc, _ := collector.GetMetricsCollector(); mc != nil {
				mc.IncrementPostsReceived()
			}
			if !l.submit(payload) {
				log.Debug().Msg("Dispatch pipeline closed, dropping payload")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read firehose stream: %w", err)
	}

	return errors.New("firehose stream ended")
}
