package mailbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BroadcastTarget is the reserved target visible to every polling consumer.
const BroadcastTarget = "all"

// ErrFull indicates the mailbox reached its configured capacity.
var ErrFull = errors.New("mailbox: capacity exhausted")

// Command is a single immutable directive addressed to one target (or broadcast).
type Command struct {
	Seq       int64     `json:"id"`
	Target    string    `json:"target"`
	Action    string    `json:"action"`
	Args      []string  `json:"args"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal receives appended commands for optional persistence.
type Journal interface {
	InsertCommand(ctx context.Context, cmd Command) error
}

// Options bound mailbox retention.
//
// Retention is by count and age: entries beyond MaxAge are evicted on every
// append, and Append fails with ErrFull once MaxEntries live entries remain.
// A consumer that polls less often than MaxAge can miss commands; within the
// horizon delivery is at-least-once (the consumer re-reads from its cursor).
type Options struct {
	MaxEntries int
	MaxAge     time.Duration
}

// Mailbox is an append-only, monotonically sequenced command log with
// per-target routing and broadcast semantics.
type Mailbox struct {
	mu      sync.Mutex
	seq     int64
	entries []Command

	opts    Options
	journal Journal
	logger  zerolog.Logger
}

// New constructs a Mailbox. journal may be nil.
func New(opts Options, journal Journal, logger zerolog.Logger) *Mailbox {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	return &Mailbox{
		opts:    opts,
		journal: journal,
		logger:  logger.With().Str("component", "mailbox").Logger(),
	}
}

// Append inserts a command at the next sequence number and returns it.
// The sequence counter is never reused, even after eviction.
func (m *Mailbox) Append(ctx context.Context, target, action string, args []string) (int64, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	m.evictLocked(now)
	if len(m.entries) >= m.opts.MaxEntries {
		m.mu.Unlock()
		return 0, ErrFull
	}

	m.seq++
	cmd := Command{
		Seq:       m.seq,
		Target:    target,
		Action:    action,
		Args:      append([]string(nil), args...),
		CreatedAt: now,
	}
	m.entries = append(m.entries, cmd)
	m.mu.Unlock()

	m.logger.Info().Int64("seq", cmd.Seq).
		Str("target", target).
		Str("action", action).
		Msg("命令已入队")

	if m.journal != nil {
		if err := m.journal.InsertCommand(ctx, cmd); err != nil {
			m.logger.Error().Err(err).Int64("seq", cmd.Seq).Msg("failed to journal command")
		}
	}

	return cmd.Seq, nil
}

// Poll returns, in ascending sequence order, every retained command addressed
// to target or to the broadcast target with a sequence greater than after.
// It never blocks and never mutates mailbox state.
func (m *Mailbox) Poll(target string, after int64) []Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Command, 0)
	for _, cmd := range m.entries {
		if cmd.Seq <= after {
			continue
		}
		if cmd.Target != target && cmd.Target != BroadcastTarget {
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// Len reports the number of retained commands.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Mailbox) evictLocked(now time.Time) {
	horizon := now.Add(-m.opts.MaxAge)
	idx := 0
	for idx < len(m.entries) && m.entries[idx].CreatedAt.Before(horizon) {
		idx++
	}
	if idx > 0 {
		m.entries = append(m.entries[:0:0], m.entries[idx:]...)
	}
}
