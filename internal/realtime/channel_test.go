package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
)

type countingPoller struct {
	mu    sync.Mutex
	calls int
	snap  domain.Dashboard
	polls chan struct{}
}

func newCountingPoller(snap domain.Dashboard) *countingPoller {
	return &countingPoller{snap: snap, polls: make(chan struct{}, 16)}
}

func (p *countingPoller) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	p.mu.Lock()
	p.calls++
	snap := p.snap
	p.mu.Unlock()
	select {
	case p.polls <- struct{}{}:
	default:
	}
	return snap, nil
}

func (p *countingPoller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeConn struct {
	frames    chan Envelope
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Envelope, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case env, ok := <-c.frames:
		if !ok {
			return io.EOF
		}
		*(v.(*Envelope)) = env
		return nil
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  chan *fakeConn
	dials  int
	tokens []string
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.tokens = append(d.tokens, token)
	d.mu.Unlock()
	select {
	case c := <-d.conns:
		return c, nil
	default:
		return nil, errors.New("connection refused")
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

func waitPoll(t *testing.T, p *countingPoller) {
	t.Helper()
	select {
	case <-p.polls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll")
	}
}

func waitUpdate(t *testing.T, updates <-chan Update, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

func quiet(t *testing.T) {
	restore := obs.SetLogOutput(io.Discard)
	t.Cleanup(restore)
}

func TestChannelPushAndPollShareOneView(t *testing.T) {
	quiet(t)
	poller := newCountingPoller(domain.Dashboard{Contributions: []domain.Contribution{
		{ID: "42", Status: domain.ContributionPending},
	}})
	conn := newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	dialer.conns <- conn

	ch := NewChannel(poller, dialer, staticToken("tok"), Options{URL: "ws://test/api/realtime", PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := ch.Updates(ctx)
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Close()

	waitPoll(t, poller)
	waitUpdate(t, updates, func(u Update) bool { return u.Source == SourcePoll })

	frame := Envelope{Event: EventContributionStatus, Data: []byte(`{"id":"42","status":"ACCEPTED"}`)}
	conn.frames <- frame
	conn.frames <- frame
	conn.frames <- Envelope{Event: EventNotificationNew, Data: []byte(`{"id":"n1","type":"status"}`)}

	// Frames are applied in order, so every update for 42 precedes the notification.
	applied42 := 0
	waitUpdate(t, updates, func(u Update) bool {
		if u.Source == SourcePush && u.ID == "42" {
			applied42++
		}
		return u.Event == EventNotificationNew
	})
	if applied42 != 1 {
		t.Fatalf("contribution 42 applied %d times, want 1", applied42)
	}

	list := ch.View().Contributions()
	if len(list) != 1 || list[0].Status != domain.ContributionAccepted {
		t.Fatalf("unexpected contributions %+v", list)
	}
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	if got := dialer.tokens[0]; got != "tok" {
		t.Fatalf("push dialed with token %q", got)
	}
}

func TestReconnectTriggersExactlyOnePoll(t *testing.T) {
	quiet(t)
	poller := newCountingPoller(domain.Dashboard{})
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 2)}
	dialer.conns <- first
	dialer.conns <- second

	ch := NewChannel(poller, dialer, nil, Options{
		URL:           "ws://test/api/realtime",
		PollInterval:  time.Hour,
		ReconnectBase: time.Millisecond,
	})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Close()
	waitPoll(t, poller)

	close(first.frames) // drop
	waitPoll(t, poller)

	time.Sleep(50 * time.Millisecond)
	if got := poller.count(); got != 2 {
		t.Fatalf("polls = %d, want start + one reconnect poll", got)
	}
	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
}

func TestPushGivesUpAndPollingContinues(t *testing.T) {
	quiet(t)
	poller := newCountingPoller(domain.Dashboard{})
	dialer := &fakeDialer{conns: make(chan *fakeConn)}

	ch := NewChannel(poller, dialer, nil, Options{
		URL:                  "ws://test/api/realtime",
		PollInterval:         20 * time.Millisecond,
		ReconnectBase:        time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Close()

	for range 3 {
		waitPoll(t, poller)
	}
	if got := dialer.dialCount(); got != 3 {
		t.Fatalf("dials = %d, want 3", got)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	quiet(t)
	poller := newCountingPoller(domain.Dashboard{})
	conn := newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	dialer.conns <- conn

	ch := NewChannel(poller, dialer, nil, Options{URL: "ws://test", PollInterval: 10 * time.Millisecond})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitPoll(t, poller)

	done := make(chan struct{})
	go func() {
		_ = ch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("push connection left open")
	}
	settled := poller.count()
	time.Sleep(50 * time.Millisecond)
	if poller.count() != settled {
		t.Fatal("timer kept polling after Close")
	}
	if err := ch.Start(context.Background()); err == nil {
		t.Fatal("restart must fail")
	}
}

func TestPollOnlyChannel(t *testing.T) {
	quiet(t)
	poller := newCountingPoller(domain.Dashboard{Stats: &domain.Stats{Scope: "ngo", Counters: map[string]int64{"open": 1}}})
	ch := NewChannel(poller, nil, nil, Options{PollInterval: time.Hour})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitPoll(t, poller)
	deadline := time.Now().Add(time.Second)
	for ch.View().Stats() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s := ch.View().Stats(); s == nil || s.Counters["open"] != 1 {
		t.Fatalf("stats not applied: %+v", s)
	}
}

func TestImmediateDropsCountTowardReconnectLimit(t *testing.T) {
	quiet(t)
	poller := newCountingPoller(domain.Dashboard{})
	dialer := &fakeDialer{conns: make(chan *fakeConn, 8)}
	for range 8 {
		conn := newFakeConn()
		close(conn.frames)
		dialer.conns <- conn
	}

	ch := NewChannel(poller, dialer, nil, Options{
		URL:                  "ws://test/api/realtime",
		PollInterval:         time.Hour,
		ReconnectBase:        20 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Close()

	time.Sleep(300 * time.Millisecond)
	if got := dialer.dialCount(); got != 3 {
		t.Fatalf("dials = %d, want 3 before giving up", got)
	}
	if got := poller.count(); got > 3 {
		t.Fatalf("polls = %d, want at most start + two reconnect polls", got)
	}
}
