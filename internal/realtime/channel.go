// Package realtime keeps a dashboard view in sync with the server through a
// push connection and periodic full polls, applying both through one loop.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
	"donorlink.org/internal/stream"
)

const (
	DefaultPollInterval         = 30 * time.Second
	DefaultPollTimeout          = 10 * time.Second
	DefaultReconnectBase        = time.Second
	DefaultMaxReconnectAttempts = 5
)

// Poller fetches the full state of the view.
type Poller interface {
	Dashboard(ctx context.Context) (domain.Dashboard, error)
}

// TokenSource supplies the bearer token for the push connection.
type TokenSource interface {
	Token() string
}

// Source tells where an update came from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Update is published whenever the view changes.
type Update struct {
	Source Source
	Event  string
	ID     string
}

// Options configure a Channel. Zero values use the defaults.
type Options struct {
	URL                  string
	PollInterval         time.Duration
	PollTimeout          time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = DefaultReconnectBase
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

// Channel owns one View. It is started once and closed once.
type Channel struct {
	opts   Options
	poller Poller
	dialer Dialer
	tokens TokenSource
	view   *View

	updates     *stream.Stream[Update]
	events      chan Envelope
	reconnected chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewChannel wires a channel. A nil dialer runs on polling alone.
func NewChannel(poller Poller, dialer Dialer, tokens TokenSource, opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		opts:        opts,
		poller:      poller,
		dialer:      dialer,
		tokens:      tokens,
		view:        NewView(),
		updates:     stream.New[Update](64),
		events:      make(chan Envelope, 64),
		reconnected: make(chan struct{}, 1),
	}
}

// View exposes the reconciled collections.
func (c *Channel) View() *View { return c.view }

// Updates streams view changes until ctx ends.
func (c *Channel) Updates(ctx context.Context) <-chan Update {
	return c.updates.Subscribe(ctx)
}

// Start launches the dispatch loop and the push connection and issues the
// first poll immediately.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("realtime: channel already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	if c.dialer != nil && c.opts.URL != "" {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runPush(ctx)
		}()
	}
	return nil
}

// Close stops the timer, closes the push connection and waits for every
// goroutine the channel started.
func (c *Channel) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

type pollResult struct {
	trigger string
	mark    uint64
	data    domain.Dashboard
	err     error
}

func (c *Channel) run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	results := make(chan pollResult, 1)
	inFlight := false
	queued := ""

	poll := func(trigger string) {
		if inFlight {
			queued = trigger
			return
		}
		inFlight = true
		mark := c.view.MarkPoll()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.opts.PollTimeout)
			data, err := c.poller.Dashboard(pctx)
			cancel()
			results <- pollResult{trigger: trigger, mark: mark, data: data, err: err}
		}()
	}

	poll("start")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll("interval")
		case <-c.reconnected:
			poll("reconnect")
			ticker.Reset(c.opts.PollInterval)
		case env := <-c.events:
			c.applyEnvelope(env)
		case res := <-results:
			inFlight = false
			c.applyPoll(ctx, res)
			if queued != "" {
				trigger := queued
				queued = ""
				poll(trigger)
			}
		}
	}
}

func (c *Channel) applyPoll(ctx context.Context, res pollResult) {
	if res.err != nil {
		if ctx.Err() != nil {
			return
		}
		obs.SyncPolls.WithLabelValues(res.trigger, "failed").Inc()
		obs.Logger().Warn("sync_event", "event", "poll_failed", "trigger", res.trigger,
			"kind", string(apperr.KindOf(res.err)), "error", res.err)
		return
	}
	obs.SyncPolls.WithLabelValues(res.trigger, "ok").Inc()
	if c.view.ApplySnapshot(res.mark, res.data) {
		obs.SyncEvents.WithLabelValues(string(SourcePoll), "snapshot", "applied").Inc()
		c.updates.Publish(Update{Source: SourcePoll, Event: "snapshot"})
		return
	}
	obs.SyncEvents.WithLabelValues(string(SourcePoll), "snapshot", "ignored").Inc()
}

func (c *Channel) applyEnvelope(env Envelope) {
	ev, err := Decode(env)
	if err != nil {
		obs.SyncEvents.WithLabelValues(string(SourcePush), "invalid", "ignored").Inc()
		obs.Logger().Debug("sync_event", "event", "push_ignored", "name", env.Event, "error", err)
		return
	}
	var changed bool
	var id string
	kind := "stats"
	switch e := ev.(type) {
	case ContributionStatusUpdated:
		kind, id = "contribution", e.Contribution.ID
		changed = c.view.ApplyContribution(e.Contribution)
	case NotificationNew:
		kind, id = "notification", e.Notification.ID
		changed = c.view.ApplyNotification(e.Notification)
	case StatsUpdated:
		changed = c.view.ApplyStats(e.Stats)
	}
	if !changed {
		obs.SyncEvents.WithLabelValues(string(SourcePush), kind, "ignored").Inc()
		return
	}
	obs.SyncEvents.WithLabelValues(string(SourcePush), kind, "applied").Inc()
	c.updates.Publish(Update{Source: SourcePush, Event: ev.Name(), ID: id})
}

// runPush keeps one push connection open. Failed dials back off linearly; once
// the attempt budget is spent the channel continues on polling alone.
func (c *Channel) runPush(ctx context.Context) {
	log := obs.Logger().With("url", c.opts.URL)
	attempt := 0
	connected := false
	for {
		token := ""
		if c.tokens != nil {
			token = c.tokens.Token()
		}
		conn, err := c.dialer.Dial(ctx, c.opts.URL, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			obs.PushConnections.WithLabelValues("failed").Inc()
			if !c.backoff(ctx, log, attempt, err) {
				return
			}
			continue
		}

		obs.PushConnections.WithLabelValues("connected").Inc()
		if connected {
			select {
			case c.reconnected <- struct{}{}:
			default:
			}
		}
		connected = true

		start := time.Now()
		delivered, err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		log.Info("sync_event", "event", "push_dropped", "frames", delivered, "error", err)
		// A connection that never carried a frame and dropped quickly counts as a failed attempt.
		if delivered > 0 || time.Since(start) >= c.opts.ReconnectBase {
			attempt = 0
		}
		attempt++
		if !c.backoff(ctx, log, attempt, err) {
			return
		}
	}
}

// backoff waits attempt*ReconnectBase before the next dial. It reports false
// when the attempt budget is spent or ctx is done.
func (c *Channel) backoff(ctx context.Context, log *slog.Logger, attempt int, cause error) bool {
	if attempt >= c.opts.MaxReconnectAttempts {
		obs.PushConnections.WithLabelValues("gave_up").Inc()
		log.Warn("sync_event", "event", "push_gave_up", "attempts", attempt, "error", cause)
		return false
	}
	delay := time.Duration(attempt) * c.opts.ReconnectBase
	log.Info("sync_event", "event", "push_retry", "attempt", attempt, "delay", delay.String(), "error", cause)
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

// readLoop forwards frames until the connection fails and returns how many it delivered.
func (c *Channel) readLoop(ctx context.Context, conn Conn) (int, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()
	delivered := 0
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return delivered, err
		}
		select {
		case c.events <- env:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}
