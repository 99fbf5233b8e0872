package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestMailbox(opts Options) *Mailbox {
	return New(opts, nil, zerolog.Nop())
}

func TestAppendAssignsIncreasingSequences(t *testing.T) {
	m := newTestMailbox(Options{})
	ctx := context.Background()

	var last int64
	for i := 0; i < 10; i++ {
		seq, err := m.Append(ctx, "bot1", "status", nil)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if seq <= last {
			t.Fatalf("sequence not strictly increasing: %d after %d", seq, last)
		}
		last = seq
	}
}

func TestPollRoutingAndBroadcast(t *testing.T) {
	m := newTestMailbox(Options{})
	ctx := context.Background()

	if _, err := m.Append(ctx, "bot1", "status", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Append(ctx, BroadcastTarget, "ping", nil); err != nil {
		t.Fatal(err)
	}

	got := m.Poll("bot1", 0)
	if len(got) != 2 || got[0].Action != "status" || got[1].Action != "ping" {
		t.Fatalf("bot1 should see both commands in order: %#v", got)
	}

	other := m.Poll("bot2", 0)
	if len(other) != 1 || other[0].Action != "ping" {
		t.Fatalf("bot2 should see only the broadcast: %#v", other)
	}
}

func TestPollCursorFilters(t *testing.T) {
	m := newTestMailbox(Options{})
	ctx := context.Background()

	first, _ := m.Append(ctx, "bot1", "a", nil)
	m.Append(ctx, "bot1", "b", []string{"1", "2"})

	got := m.Poll("bot1", first)
	if len(got) != 1 || got[0].Action != "b" {
		t.Fatalf("cursor should hide already-seen commands: %#v", got)
	}
	if len(got[0].Args) != 2 || got[0].Args[0] != "1" {
		t.Fatalf("args 顺序应保留: %#v", got[0].Args)
	}
}

func TestPollIsIdempotent(t *testing.T) {
	m := newTestMailbox(Options{})
	ctx := context.Background()
	m.Append(ctx, "bot1", "a", nil)
	m.Append(ctx, BroadcastTarget, "b", nil)

	first := m.Poll("bot1", 0)
	second := m.Poll("bot1", 0)
	if len(first) != len(second) {
		t.Fatalf("repeated poll must return identical results: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Seq != second[i].Seq {
			t.Fatalf("repeated poll diverged at %d", i)
		}
	}
}

func TestAppendFullRejects(t *testing.T) {
	m := newTestMailbox(Options{MaxEntries: 2, MaxAge: time.Hour})
	ctx := context.Background()

	m.Append(ctx, "bot1", "a", nil)
	m.Append(ctx, "bot1", "b", nil)
	if _, err := m.Append(ctx, "bot1", "c", nil); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestEvictionNeverReusesSequences(t *testing.T) {
	m := newTestMailbox(Options{MaxEntries: 2, MaxAge: 20 * time.Millisecond})
	ctx := context.Background()

	m.Append(ctx, "bot1", "a", nil)
	m.Append(ctx, "bot1", "b", nil)
	time.Sleep(40 * time.Millisecond)

	seq, err := m.Append(ctx, "bot1", "c", nil)
	if err != nil {
		t.Fatalf("append after eviction failed: %v", err)
	}
	if seq != 3 {
		t.Fatalf("sequence restarted after eviction: %d", seq)
	}
	if got := m.Poll("bot1", 0); len(got) != 1 {
		t.Fatalf("old commands should be evicted: %#v", got)
	}
}

func TestConcurrentAppendsUniqueSequences(t *testing.T) {
	m := newTestMailbox(Options{MaxEntries: 10000})
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	seqs := make(chan int64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seq, err := m.Append(ctx, "bot1", "n", nil)
				if err != nil {
					t.Errorf("append failed: %v", err)
					return
				}
				seqs <- seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("sequence %d handed out twice", seq)
		}
		seen[seq] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique sequences, got %d", workers*perWorker, len(seen))
	}

	got := m.Poll("bot1", 0)
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("poll order not ascending at %d", i)
		}
	}
}
