package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-notify-relay/internal/notify"
	"tg-notify-relay/internal/storage"
)

// ErrDeliveryFailed indicates the push channel rejected the notification.
// Critical alerts are still tracked when delivery fails: a missed message is
// worse than a spurious escalation call.
var ErrDeliveryFailed = errors.New("engine: push delivery failed")

// ErrNoVoiceChannel indicates no voice-call collaborator is configured.
var ErrNoVoiceChannel = errors.New("engine: voice channel not configured")

// State models the alert lifecycle.
type State int32

const (
	StatePending State = iota
	StateAcknowledged
	StateEscalated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAcknowledged:
		return "acknowledged"
	case StateEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// Alert tracks a critical notification awaiting acknowledgment.
// The state transition Pending → {Acknowledged, Escalated} is a single atomic
// compare-and-swap; exactly one of the two terminal states ever wins.
type Alert struct {
	ID        string
	Note      notify.Notification
	CreatedAt time.Time
	Deadline  time.Time

	state  atomic.Int32
	doneAt time.Time // guarded by Engine.mu, set once by the winning transition
}

// State returns the current lifecycle state.
func (a *Alert) State() State {
	return State(a.state.Load())
}

func (a *Alert) transition(from, to State) bool {
	return a.state.CompareAndSwap(int32(from), int32(to))
}

// Messenger 定义推送通道契约。confirmID 非空时附带确认按钮。
type Messenger interface {
	Deliver(ctx context.Context, text, confirmID string) error
}

// Caller 定义电话升级通道契约。
type Caller interface {
	Call(ctx context.Context, message string) error
}

// Options tune engine behaviour.
type Options struct {
	// Window is the acknowledgment deadline for critical alerts.
	Window time.Duration
	// Retention keeps terminal alerts around for duplicate-event handling
	// before the janitor evicts them.
	Retention time.Duration
}

// Engine owns the alert lifecycle: it dispatches notifications, races each
// critical alert's deadline against acknowledgment, and triggers at most one
// escalation call per alert.
type Engine struct {
	opts      Options
	messenger Messenger
	caller    Caller
	journal   storage.AlertJournal
	logger    zerolog.Logger
	timers    *timerSet

	mu     sync.RWMutex
	alerts map[string]*Alert
}

// New constructs the escalation engine. caller and journal may be nil.
func New(opts Options, messenger Messenger, caller Caller, journal storage.AlertJournal, logger zerolog.Logger) *Engine {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	return &Engine{
		opts:      opts,
		messenger: messenger,
		caller:    caller,
		journal:   journal,
		logger:    logger.With().Str("component", "engine").Logger(),
		timers:    newTimerSet(),
		alerts:    make(map[string]*Alert),
	}
}

// Submit 接收一条通知并派发。critical 级别进入升级状态机，其余发完即结束。
func (e *Engine) Submit(ctx context.Context, n notify.Notification) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	text := notify.Render(n, now.Local(), e.opts.Window)

	if n.Priority != notify.PriorityCritical {
		// 先发后记，落库结果反映真实投递情况。
		if err := e.messenger.Deliver(ctx, text, ""); err != nil {
			e.recordAlert(ctx, id, n, now, nil, storage.OutcomeFailed)
			return id, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		e.recordAlert(ctx, id, n, now, nil, storage.OutcomeSent)
		e.logger.Info().Str("alert_id", id).Str("channel", n.Channel).Msg("通知已发送")
		return id, nil
	}

	alert := &Alert{
		ID:        id,
		Note:      n,
		CreatedAt: now,
		Deadline:  now.Add(e.opts.Window),
	}

	e.mu.Lock()
	e.alerts[id] = alert
	e.mu.Unlock()

	e.recordAlert(ctx, id, n, now, &alert.Deadline, storage.OutcomePending)

	// The timer is armed regardless of delivery outcome: fail open toward
	// escalation when the push channel is down.
	e.timers.Schedule(id, e.opts.Window, func() { e.fireDeadline(id) })

	deliverErr := e.messenger.Deliver(ctx, text, id)
	if deliverErr != nil {
		e.logger.Error().Err(deliverErr).Str("alert_id", id).Msg("critical 推送失败，升级计时不受影响")
		return id, fmt.Errorf("%w: %v", ErrDeliveryFailed, deliverErr)
	}

	e.logger.Info().Str("alert_id", id).Time("deadline", alert.Deadline).Msg("critical 告警已发送")
	return id, nil
}

// Acknowledge 处理确认事件。仅当告警仍为 Pending 时转移成功并返回 true；
// 重复、迟到或未知的确认一律为 no-op。
func (e *Engine) Acknowledge(ctx context.Context, id string) bool {
	e.mu.RLock()
	alert, ok := e.alerts[id]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	if !alert.transition(StatePending, StateAcknowledged) {
		return false
	}

	e.timers.Cancel(id)
	e.markDone(alert)
	e.logger.Info().Str("alert_id", id).Msg("告警已确认，取消电话升级")
	e.journalOutcome(ctx, id, storage.OutcomeAcknowledged)
	return true
}

// CallNow 跳过状态机直接拨打电话。
func (e *Engine) CallNow(ctx context.Context, message string) error {
	if e.caller == nil {
		return ErrNoVoiceChannel
	}
	if err := e.caller.Call(ctx, message); err != nil {
		return fmt.Errorf("place call: %w", err)
	}
	e.logger.Info().Msg("手动电话已拨出")
	return nil
}

// PendingCount reports the number of alerts still awaiting acknowledgment.
func (e *Engine) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, alert := range e.alerts {
		if alert.State() == StatePending {
			count++
		}
	}
	return count
}

// Lookup returns the tracked alert for id, if still retained.
func (e *Engine) Lookup(id string) (*Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	alert, ok := e.alerts[id]
	return alert, ok
}

// Run blocks until ctx is cancelled, periodically evicting terminal alerts
// past the retention window. Timers are stopped on return.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.opts.Retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer e.timers.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.evictTerminal(time.Now().UTC())
		}
	}
}

func (e *Engine) fireDeadline(id string) {
	e.mu.RLock()
	alert, ok := e.alerts[id]
	e.mu.RUnlock()
	if !ok {
		return
	}

	if !alert.transition(StatePending, StateEscalated) {
		return
	}
	e.markDone(alert)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.logger.Warn().Str("alert_id", id).Str("title", alert.Note.Title).Msg("告警超时未确认，触发电话升级")
	e.journalOutcome(ctx, id, storage.OutcomeEscalated)

	// Best-effort heads-up on the push channel before the call goes out.
	if err := e.messenger.Deliver(ctx, "📞 <b>即将拨打电话...</b>\n\n未在规定时间内确认告警", ""); err != nil {
		e.logger.Debug().Err(err).Str("alert_id", id).Msg("escalation notice delivery failed")
	}

	if e.caller == nil {
		e.logger.Error().Str("alert_id", id).Msg("voice channel not configured; escalation call skipped")
		return
	}

	message := notify.RenderVoice(alert.Note.Title, alert.Note.Message)
	if err := e.caller.Call(ctx, message); err != nil {
		// Not retried: the alert stays Escalated so a second call path for
		// the same alert cannot open up (no call-storming).
		e.logger.Error().Err(err).Str("alert_id", id).Msg("电话升级失败")
		return
	}
	e.logger.Info().Str("alert_id", id).Msg("升级电话已拨出")
}

func (e *Engine) markDone(alert *Alert) {
	e.mu.Lock()
	alert.doneAt = time.Now().UTC()
	e.mu.Unlock()
}

func (e *Engine) evictTerminal(now time.Time) {
	horizon := now.Add(-e.opts.Retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, alert := range e.alerts {
		if alert.State() == StatePending {
			continue
		}
		if alert.doneAt.Before(horizon) {
			delete(e.alerts, id)
		}
	}
}

func (e *Engine) recordAlert(ctx context.Context, id string, n notify.Notification, now time.Time, deadline *time.Time, outcome string) {
	if e.journal == nil {
		return
	}
	record := storage.AlertRecord{
		ID:        id,
		Channel:   n.Channel,
		Title:     n.Title,
		Body:      n.Message,
		Priority:  string(n.Priority),
		Outcome:   outcome,
		Deadline:  deadline,
		CreatedAt: now,
	}
	if err := e.journal.InsertAlert(ctx, record); err != nil {
		e.logger.Error().Err(err).Str("alert_id", id).Msg("failed to journal alert")
	}
}

func (e *Engine) journalOutcome(ctx context.Context, id, outcome string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.UpdateAlertOutcome(ctx, id, outcome); err != nil {
		e.logger.Error().Err(err).Str("alert_id", id).Msg("failed to journal alert outcome")
	}
}
