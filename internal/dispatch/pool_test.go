package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DouglasDev222/ServerZap/internal/persistence"
)

type fakeSession struct {
	mu     sync.Mutex
	ready  bool
	sends  []string
	sendFn func(address string, body string) (string, error)
}

func (f *fakeSession) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSession) Send(ctx context.Context, address string, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, address)
	if f.sendFn != nil {
		return f.sendFn(address, body)
	}
	return "MSG-1", nil
}

func (f *fakeSession) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func newTestPool(t *testing.T, session *fakeSession) (*Pool, *persistence.Queue) {
	t.Helper()
	db, err := persistence.Open(context.Background(), persistence.Options{
		Path: filepath.Join(t.TempDir(), "serverzap.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	pool := NewPool(db.Queue, session, PoolOptions{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		SendTimeout:  time.Second,
		Policy:       persistence.Policy{MaxAttempts: 3, BackoffBase: 10 * time.Millisecond},
	}, zerolog.Nop())
	return pool, db.Queue
}

func TestSubmitValidation(t *testing.T) {
	pool, _ := newTestPool(t, &fakeSession{})
	ctx := context.Background()

	if _, err := pool.Submit(ctx, "", "hello"); !errors.Is(err, ErrRecipientRequired) {
		t.Fatalf("expected ErrRecipientRequired, got %v", err)
	}
	if _, err := pool.Submit(ctx, "5511999999999", "  "); !errors.Is(err, ErrBodyRequired) {
		t.Fatalf("expected ErrBodyRequired, got %v", err)
	}
	jobID, err := pool.Submit(ctx, "5511999999999", "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID == "" {
		t.Fatalf("expected a job id")
	}
}

// A job picked up while the session is not ready is consumed terminally
// instead of cycling through the retry schedule.
func TestNotReadyConsumesJobWithoutRetry(t *testing.T) {
	session := &fakeSession{ready: false}
	pool, queue := newTestPool(t, session)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	pool.nowFn = func() time.Time { return now }

	jobID, err := pool.Submit(ctx, "5511999999999", "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, ok, err := queue.Lease(ctx, now)
	if err != nil || !ok {
		t.Fatalf("lease: ok=%t err=%v", ok, err)
	}
	pool.process(ctx, pool.log, job)

	if session.sendCount() != 0 {
		t.Fatalf("no send must be attempted while the session is not ready")
	}
	if _, ok, _ := queue.Lease(ctx, now.Add(time.Hour)); ok {
		t.Fatalf("not-ready attempt must not feed the retry schedule")
	}
	snapshot, ok, err := queue.JobSnapshot(ctx, jobID)
	if err != nil || !ok {
		t.Fatalf("snapshot: ok=%t err=%v", ok, err)
	}
	if snapshot.Status != string(persistence.ResultFailed) || snapshot.FailureReason != notReadyReason {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	letters, err := queue.DeadLetters(ctx, 0)
	if err != nil || len(letters) != 1 {
		t.Fatalf("expected one dead letter, got %d err=%v", len(letters), err)
	}
}

func TestSecondAttemptSucceedsAfterBackoff(t *testing.T) {
	attempts := 0
	session := &fakeSession{ready: true}
	session.sendFn = func(address string, body string) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("transient transport error")
		}
		return "MSG-42", nil
	}
	pool, queue := newTestPool(t, session)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	pool.nowFn = func() time.Time { return now }

	jobID, err := pool.Submit(ctx, "5511999999999", "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, ok, _ := queue.Lease(ctx, now)
	if !ok {
		t.Fatalf("expected lease for attempt 1")
	}
	pool.process(ctx, pool.log, job)

	// Attempt 1 failed; job must honor the backoff window before attempt 2.
	if _, ok, _ := queue.Lease(ctx, now.Add(5*time.Millisecond)); ok {
		t.Fatalf("job must not be due inside the backoff window")
	}
	now = now.Add(10 * time.Millisecond)
	job, ok, _ = queue.Lease(ctx, now)
	if !ok {
		t.Fatalf("expected lease for attempt 2")
	}
	pool.process(ctx, pool.log, job)

	snapshot, ok, err := queue.JobSnapshot(ctx, jobID)
	if err != nil || !ok {
		t.Fatalf("snapshot: ok=%t err=%v", ok, err)
	}
	if snapshot.Status != string(persistence.ResultSucceeded) || snapshot.MessageID != "MSG-42" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Attempt != 2 {
		t.Fatalf("expected success on attempt 2, got %d", snapshot.Attempt)
	}
}

func TestWorkersNormalizeRecipientAddress(t *testing.T) {
	session := &fakeSession{ready: true}
	pool, queue := newTestPool(t, session)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	pool.nowFn = func() time.Time { return now }

	for _, recipient := range []string{"5511999999999", "5511999999999@c.us"} {
		if _, err := pool.Submit(ctx, recipient, "hello"); err != nil {
			t.Fatalf("submit %q: %v", recipient, err)
		}
		job, ok, _ := queue.Lease(ctx, now)
		if !ok {
			t.Fatalf("expected lease for %q", recipient)
		}
		pool.process(ctx, pool.log, job)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.sends) != 2 {
		t.Fatalf("expected two sends, got %d", len(session.sends))
	}
	if session.sends[0] != session.sends[1] {
		t.Fatalf("both recipients must resolve to the same transport address: %q vs %q", session.sends[0], session.sends[1])
	}
	if session.sends[0] != "5511999999999@s.whatsapp.net" {
		t.Fatalf("unexpected transport address %q", session.sends[0])
	}
}

func TestRunDrainsQueue(t *testing.T) {
	session := &fakeSession{ready: true}
	pool, queue := newTestPool(t, session)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		if _, err := pool.Submit(ctx, "5511999999999", "hello"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		pending, err := queue.PendingCount(context.Background())
		if err != nil {
			t.Fatalf("pending count: %v", err)
		}
		if pending == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained, %d pending", pending)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pool did not stop after cancel")
	}

	if session.sendCount() != 5 {
		t.Fatalf("expected five sends, got %d", session.sendCount())
	}
}
