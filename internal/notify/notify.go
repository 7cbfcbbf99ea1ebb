// Package notify posts run outcomes to an operator webhook. Delivery is
// best-effort: a failed POST is logged and dropped, the run history
// database stays the source of truth.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/run"
)

// Sentinel errors for notifier lifecycle operations.
var (
	ErrAlreadyStarted = errors.New("notify: already started")
	ErrNotStarted     = errors.New("notify: not started")
)

// Config holds notifier configuration.
type Config struct {
	// URL receives POSTed JSON payloads.
	URL string

	// Secret, when set, signs each payload with HMAC-SHA256 in the
	// X-Signature-256 header.
	Secret string

	// FailuresOnly suppresses notifications for runs that did not fail.
	FailuresOnly bool

	// Quiet suppresses non-failure notifications inside the window.
	// Failures are always delivered.
	Quiet *QuietHours

	// Timezone the quiet window is evaluated in. nil = UTC.
	Timezone *time.Location

	// Timeout bounds one delivery attempt. Default 10s.
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger
	Now    func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// payload is the JSON body delivered to the webhook.
type payload struct {
	Event   string    `json:"event"`
	Job     string    `json:"job"`
	RunID   string    `json:"run_id"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier subscribes to run events and delivers finished-run outcomes
// to the configured webhook.
type Notifier struct {
	cfg Config
	hub *event.Hub

	mu     sync.Mutex
	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}
}

// New creates a Notifier. The URL must be set; use a nil Notifier (skip
// construction) when notifications are not configured.
func New(cfg Config, hub *event.Hub) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("notify: URL is required")
	}
	if hub == nil {
		return nil, errors.New("notify: nil event hub")
	}
	return &Notifier{cfg: cfg.withDefaults(), hub: hub}, nil
}

// Start subscribes to the event hub and begins delivering outcomes.
// Returns ErrAlreadyStarted if called twice.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, n.cancel = context.WithCancel(ctx)
	events, unsub := n.hub.Subscribe(0)
	n.unsub = unsub
	n.done = make(chan struct{})
	go n.run(ctx, events)
	return nil
}

// Stop cancels delivery and waits for the in-flight attempt, if any, to
// finish. Returns ErrNotStarted if not running.
func (n *Notifier) Stop(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel == nil {
		return ErrNotStarted
	}

	n.cancel()
	n.unsub()
	n.cancel = nil
	n.unsub = nil
	<-n.done
	return nil
}

func (n *Notifier) run(ctx context.Context, events <-chan event.Event) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, ev)
		}
	}
}

// handle filters one event against the notification policy and delivers
// it when it passes.
func (n *Notifier) handle(ctx context.Context, ev event.Event) {
	if ev.Type != event.TypeRunFinished {
		return
	}

	failure := ev.Outcome == run.OutcomeFailed || ev.Outcome == run.OutcomeAborted
	if n.cfg.FailuresOnly && !failure {
		return
	}
	if !failure && n.cfg.Quiet != nil && n.cfg.Quiet.IsQuiet(n.cfg.Now().In(n.cfg.Timezone)) {
		n.cfg.Logger.Debug("notification suppressed by quiet hours",
			"job", ev.Job,
			"run_id", ev.RunID,
		)
		return
	}

	if err := n.deliver(ctx, ev); err != nil {
		n.cfg.Logger.Warn("notification delivery failed",
			"job", ev.Job,
			"run_id", ev.RunID,
			"error", err,
		)
	}
}

func (n *Notifier) deliver(ctx context.Context, ev event.Event) error {
	body, err := json.Marshal(payload{
		Event:   string(ev.Type),
		Job:     ev.Job,
		RunID:   ev.RunID,
		Outcome: string(ev.Outcome),
		Detail:  ev.Detail,
		Time:    ev.Time,
	})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", sign(body, n.cfg.Secret))
	}

	resp, err := n.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

// sign computes the HMAC-SHA256 signature a receiver can verify against
// the raw body.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
