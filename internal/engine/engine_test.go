package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-notify-relay/internal/notify"
	"tg-notify-relay/internal/storage"
)

type fakeMessenger struct {
	mu       sync.Mutex
	fail     bool
	texts    []string
	confirms []string
}

func (f *fakeMessenger) Deliver(ctx context.Context, text, confirmID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("push channel down")
	}
	f.texts = append(f.texts, text)
	f.confirms = append(f.confirms, confirmID)
	return nil
}

func (f *fakeMessenger) deliveries() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), append([]string(nil), f.confirms...)
}

type fakeCaller struct {
	mu       sync.Mutex
	fail     bool
	messages []string
}

func (f *fakeCaller) Call(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("telephony down")
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeCaller) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeJournal struct {
	mu      sync.Mutex
	inserts []storage.AlertRecord
	updates map[string]string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{updates: make(map[string]string)}
}

func (f *fakeJournal) InsertAlert(ctx context.Context, record storage.AlertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, record)
	return nil
}

func (f *fakeJournal) UpdateAlertOutcome(ctx context.Context, id, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = outcome
	return nil
}

func (f *fakeJournal) inserted() []storage.AlertRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.AlertRecord(nil), f.inserts...)
}

func newTestEngine(window time.Duration, m *fakeMessenger, c *fakeCaller) *Engine {
	// Avoid wrapping a nil *fakeCaller in a non-nil Caller interface value.
	var caller Caller
	if c != nil {
		caller = c
	}
	return New(Options{Window: window, Retention: time.Minute}, m, caller, nil, zerolog.Nop())
}

func critical(title string) notify.Notification {
	return notify.Notification{Channel: "alert", Title: title, Message: "body", Priority: notify.PriorityCritical}
}

func TestSubmitNormalIsFireAndForget(t *testing.T) {
	messenger := &fakeMessenger{}
	caller := &fakeCaller{}
	e := newTestEngine(30*time.Millisecond, messenger, caller)

	id, err := e.Submit(context.Background(), notify.Notification{Channel: "info", Title: "t", Message: "m", Priority: notify.PriorityNormal})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, confirms := messenger.deliveries()
	if len(confirms) != 1 || confirms[0] != "" {
		t.Fatalf("normal alert should not carry a confirm affordance: %#v", confirms)
	}

	if e.Acknowledge(context.Background(), id) {
		t.Fatal("non-critical alerts are not tracked, ack must be a no-op")
	}

	time.Sleep(150 * time.Millisecond)
	if len(caller.calls()) != 0 {
		t.Fatal("non-critical alert must never trigger a call")
	}
}

func TestSubmitNormalJournalsDeliveryOutcome(t *testing.T) {
	journal := newFakeJournal()
	note := notify.Notification{Channel: "info", Title: "t", Message: "m", Priority: notify.PriorityNormal}

	ok := New(Options{Window: time.Minute, Retention: time.Minute}, &fakeMessenger{}, nil, journal, zerolog.Nop())
	if _, err := ok.Submit(context.Background(), note); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	bad := New(Options{Window: time.Minute, Retention: time.Minute}, &fakeMessenger{fail: true}, nil, journal, zerolog.Nop())
	if _, err := bad.Submit(context.Background(), note); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	records := journal.inserted()
	if len(records) != 2 {
		t.Fatalf("两次提交均应落库: %d", len(records))
	}
	if records[0].Outcome != storage.OutcomeSent {
		t.Fatalf("成功投递应记 sent: %q", records[0].Outcome)
	}
	if records[1].Outcome != storage.OutcomeFailed {
		t.Fatalf("投递失败不应记 sent: %q", records[1].Outcome)
	}
}

func TestCriticalEscalatesExactlyOnce(t *testing.T) {
	messenger := &fakeMessenger{}
	caller := &fakeCaller{}
	e := newTestEngine(30*time.Millisecond, messenger, caller)

	id, err := e.Submit(context.Background(), critical("disk full"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, confirms := messenger.deliveries()
	if len(confirms) != 1 || confirms[0] != id {
		t.Fatalf("critical alert should carry confirm affordance %q: %#v", id, confirms)
	}

	time.Sleep(300 * time.Millisecond)

	calls := caller.calls()
	if len(calls) != 1 {
		t.Fatalf("升级电话应恰好一次, 实际 %d", len(calls))
	}
	if !strings.Contains(calls[0], "disk full") {
		t.Fatalf("call message should reference the alert title: %q", calls[0])
	}

	alert, ok := e.Lookup(id)
	if !ok || alert.State() != StateEscalated {
		t.Fatalf("alert should be escalated, got %v", alert.State())
	}

	// Late acknowledgment neither retracts the call nor triggers another.
	if e.Acknowledge(context.Background(), id) {
		t.Fatal("ack after escalation must return false")
	}
	time.Sleep(100 * time.Millisecond)
	if len(caller.calls()) != 1 {
		t.Fatal("late ack must not trigger a second call")
	}
}

func TestAckBeforeDeadlinePreventsCall(t *testing.T) {
	messenger := &fakeMessenger{}
	caller := &fakeCaller{}
	e := newTestEngine(200*time.Millisecond, messenger, caller)

	id, err := e.Submit(context.Background(), critical("cpu hot"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if !e.Acknowledge(context.Background(), id) {
		t.Fatal("first ack on pending alert must succeed")
	}
	if e.Acknowledge(context.Background(), id) {
		t.Fatal("duplicate ack must be a no-op")
	}

	time.Sleep(500 * time.Millisecond)
	if len(caller.calls()) != 0 {
		t.Fatal("acknowledged alert must never call")
	}

	alert, _ := e.Lookup(id)
	if alert.State() != StateAcknowledged {
		t.Fatalf("expected acknowledged, got %v", alert.State())
	}
}

func TestDeliveryFailureStillEscalates(t *testing.T) {
	messenger := &fakeMessenger{fail: true}
	caller := &fakeCaller{}
	e := newTestEngine(30*time.Millisecond, messenger, caller)

	_, err := e.Submit(context.Background(), critical("link down"))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if len(caller.calls()) != 1 {
		t.Fatalf("推送失败仍应升级打电话, calls=%d", len(caller.calls()))
	}
}

func TestCallFailureLeavesAlertEscalated(t *testing.T) {
	messenger := &fakeMessenger{}
	caller := &fakeCaller{fail: true}
	e := newTestEngine(30*time.Millisecond, messenger, caller)

	id, _ := e.Submit(context.Background(), critical("x"))
	time.Sleep(300 * time.Millisecond)

	alert, _ := e.Lookup(id)
	if alert.State() != StateEscalated {
		t.Fatalf("call failure must not block the state transition, got %v", alert.State())
	}
}

func TestAcknowledgeUnknownID(t *testing.T) {
	e := newTestEngine(time.Minute, &fakeMessenger{}, &fakeCaller{})
	if e.Acknowledge(context.Background(), "nope") {
		t.Fatal("unknown id must be a benign no-op")
	}
}

func TestCallNow(t *testing.T) {
	caller := &fakeCaller{}
	e := newTestEngine(time.Minute, &fakeMessenger{}, caller)

	if err := e.CallNow(context.Background(), "看一下服务器"); err != nil {
		t.Fatalf("call now failed: %v", err)
	}
	if calls := caller.calls(); len(calls) != 1 || calls[0] != "看一下服务器" {
		t.Fatalf("unexpected calls: %#v", calls)
	}

	none := newTestEngine(time.Minute, &fakeMessenger{}, nil)
	if err := none.CallNow(context.Background(), "x"); !errors.Is(err, ErrNoVoiceChannel) {
		t.Fatalf("expected ErrNoVoiceChannel, got %v", err)
	}
}

func TestAckRacesDeadlineExactlyOneWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		messenger := &fakeMessenger{}
		caller := &fakeCaller{}
		e := newTestEngine(time.Millisecond, messenger, caller)

		id, err := e.Submit(context.Background(), critical("race"))
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		acked := e.Acknowledge(context.Background(), id)

		// Let any in-flight deadline firing settle.
		deadlineCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for {
			alert, _ := e.Lookup(id)
			if alert.State() != StatePending {
				break
			}
			if deadlineCtx.Err() != nil {
				t.Fatal("alert never left pending")
			}
			time.Sleep(time.Millisecond)
		}
		cancel()
		time.Sleep(20 * time.Millisecond)

		alert, _ := e.Lookup(id)
		calls := len(caller.calls())
		switch alert.State() {
		case StateAcknowledged:
			if !acked || calls != 0 {
				t.Fatalf("iter %d: acknowledged but acked=%v calls=%d", i, acked, calls)
			}
		case StateEscalated:
			if acked || calls != 1 {
				t.Fatalf("iter %d: escalated but acked=%v calls=%d", i, acked, calls)
			}
		default:
			t.Fatalf("iter %d: non-terminal state %v", i, alert.State())
		}
	}
}

func TestTerminalAlertsEvictedAfterRetention(t *testing.T) {
	e := New(Options{Window: time.Minute, Retention: 10 * time.Millisecond}, &fakeMessenger{}, &fakeCaller{}, nil, zerolog.Nop())

	id, _ := e.Submit(context.Background(), critical("old"))
	e.Acknowledge(context.Background(), id)

	time.Sleep(30 * time.Millisecond)
	e.evictTerminal(time.Now().UTC())

	if _, ok := e.Lookup(id); ok {
		t.Fatal("terminal alert past retention should be evicted")
	}
}

func TestTimerSetCancel(t *testing.T) {
	ts := newTimerSet()
	fired := make(chan struct{}, 1)
	ts.Schedule("a", 20*time.Millisecond, func() { fired <- struct{}{} })
	if !ts.Cancel("a") {
		t.Fatal("cancel before firing should succeed")
	}
	select {
	case <-fired:
		t.Fatal("cancelled timer must not fire")
	case <-time.After(80 * time.Millisecond):
	}

	ts.Schedule("b", time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	ts.Stop()
}
