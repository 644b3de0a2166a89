// Package watch is a terminal observer of the dock queue. It keeps a local
// snapshot fresh from websocket pushes plus a slow poll and redraws the live
// timers every second.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/notify"
	"dockqueue-backend/internal/timer"
	"dockqueue-backend/internal/websocket"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval   = 10 * time.Second
	defaultRenderInterval = time.Second
	minReconnectDelay     = time.Second
	maxReconnectDelay     = 30 * time.Second
)

type Options struct {
	// BaseURL of the API server, e.g. http://localhost:8080
	BaseURL     string
	Destination string
	Facility    string

	PollInterval   time.Duration
	RenderInterval time.Duration

	Out        io.Writer
	HTTPClient *http.Client
	// ClearScreen redraws in place with ANSI escapes.
	ClearScreen bool
}

type Watcher struct {
	opts    Options
	refresh chan struct{}

	mu       sync.Mutex
	entries  []models.QueueEntry
	lastSync time.Time
}

func New(opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = defaultRenderInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Watcher{opts: opts, refresh: make(chan struct{}, 1)}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.subscribe(ctx)
		return nil
	})
	g.Go(func() error {
		w.poll(ctx)
		return nil
	})
	g.Go(func() error {
		timer.Run(ctx, w.opts.RenderInterval, w.draw)
		return nil
	})

	return g.Wait()
}

// Snapshot returns a copy of the current entries.
func (w *Watcher) Snapshot() []models.QueueEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.QueueEntry(nil), w.entries...)
}

func (w *Watcher) requestRefresh() {
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("⚠️  Queue refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.refresh:
		}
	}
}

// Refresh re-fetches the queue once.
func (w *Watcher) Refresh(ctx context.Context) error {
	q := url.Values{}
	if w.opts.Destination != "" {
		q.Set("destination", w.opts.Destination)
	}
	if w.opts.Facility != "" {
		q.Set("facility", w.opts.Facility)
	}
	path := "/api/queue"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var entries []models.QueueEntry
	if err := w.call(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return err
	}

	w.mu.Lock()
	w.entries = entries
	w.lastSync = time.Now()
	w.mu.Unlock()
	return nil
}

// subscribe keeps a websocket open on the queue channel, reconnecting with
// backoff, and turns every push into a refresh.
func (w *Watcher) subscribe(ctx context.Context) {
	var b backoff
	for ctx.Err() == nil {
		connected, err := w.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.reset()
		}
		delay := b.next()
		log.Warn().Err(err).Dur("retry_in", delay).Msg("⚠️  Realtime connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoff doubles the reconnect delay up to maxReconnectDelay. The zero
// value starts at minReconnectDelay.
type backoff struct {
	delay time.Duration
}

func (b *backoff) next() time.Duration {
	if b.delay < minReconnectDelay {
		b.delay = minReconnectDelay
	}
	d := b.delay
	b.delay *= 2
	if b.delay > maxReconnectDelay {
		b.delay = maxReconnectDelay
	}
	return d
}

func (b *backoff) reset() {
	b.delay = minReconnectDelay
}

// listen reports whether the websocket was established before it failed.
func (w *Watcher) listen(ctx context.Context) (bool, error) {
	var grant struct {
		Token string `json:"token"`
	}
	if err := w.call(ctx, http.MethodPost, "/api/realtime/token", nil, &grant); err != nil {
		return false, fmt.Errorf("channel token: %w", err)
	}

	wsURL, err := websocketURL(w.opts.BaseURL, grant.Token)
	if err != nil {
		return false, err
	}
	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info().Msg("🔌 Subscribed to queue updates")
	w.requestRefresh()

	for {
		var msg websocket.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}
		if msg.Channel == notify.QueueChannel && msg.Event == notify.EventQueueChanged {
			w.requestRefresh()
		}
	}
}

func websocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (w *Watcher) call(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.opts.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s %s: %s: %s", method, path, env.Error.Code, env.Error.Message)
		}
		return errors.New(method + " " + path + ": request failed")
	}
	return json.Unmarshal(env.Data, dest)
}

func (w *Watcher) draw(now time.Time) {
	w.mu.Lock()
	entries := w.entries
	synced := w.lastSync
	w.mu.Unlock()

	var buf bytes.Buffer
	if w.opts.ClearScreen {
		buf.WriteString("\033[H\033[2J")
	}
	Render(&buf, entries, now, synced)
	w.opts.Out.Write(buf.Bytes())
}
