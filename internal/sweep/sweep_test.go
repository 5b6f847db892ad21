package sweep

import (
	"context"
	"testing"
	"time"
)

type fakeBookingExpirer struct{ calls chan struct{} }

func (f *fakeBookingExpirer) ExpirePending(ctx context.Context) (int, error) {
	f.calls <- struct{}{}
	return 0, nil
}

type fakeWaitlistExpirer struct{ calls chan struct{} }

func (f *fakeWaitlistExpirer) ExpireNotified(ctx context.Context) (int, error) {
	f.calls <- struct{}{}
	return 0, nil
}

func TestStartExpirePending_RunsImmediatelyAndOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeBookingExpirer{calls: make(chan struct{}, 4)}
	StartExpirePending(ctx, f, 20*time.Millisecond)

	select {
	case <-f.calls:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate sweep run")
	}

	select {
	case <-f.calls:
	case <-time.After(time.Second):
		t.Fatal("expected a second sweep run on tick")
	}
}

func TestStartExpireNotified_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := &fakeWaitlistExpirer{calls: make(chan struct{}, 4)}
	StartExpireNotified(ctx, f, 20*time.Millisecond)

	select {
	case <-f.calls:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate sweep run")
	}

	cancel()

	// Draining any buffered runs that raced the cancel, then ensure no more
	// calls arrive.
	drain := true
	for drain {
		select {
		case <-f.calls:
		case <-time.After(100 * time.Millisecond):
			drain = false
		}
	}

	select {
	case <-f.calls:
		t.Fatal("sweeper kept running after context cancellation")
	case <-time.After(200 * time.Millisecond):
	}
}
