package lazyurl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollPending(t *testing.T) {
	f := New()

	value, state := f.Poll()
	if state != Pending {
		t.Fatalf("expected pending state, got %v", state)
	}
	if value != (Resolution{}) {
		t.Fatalf("expected zero resolution, got %+v", value)
	}
}

func TestResolveCaches(t *testing.T) {
	f := New()
	want := Resolution{
		Edit:    "http://localhost:5100/admin/edit",
		Preview: "http://localhost:5100/",
		Admin:   "http://localhost:5100/admin",
	}
	f.Resolve(want)

	for i := 0; i < 3; i++ {
		value, state := f.Poll()
		if state != Ready {
			t.Fatalf("expected ready state, got %v", state)
		}
		if value != want {
			t.Fatalf("expected %+v, got %+v", want, value)
		}
	}
}

func TestFirstResolutionWins(t *testing.T) {
	f := New()
	want := Resolution{Edit: "http://localhost:5100/admin/edit"}
	f.Resolve(want)
	f.Resolve(Resolution{Edit: "http://localhost:9999/admin/edit"})
	f.Fail(errors.New("late failure"))

	value, state := f.Poll()
	if state != Ready {
		t.Fatalf("expected ready state, got %v", state)
	}
	if value != want {
		t.Fatalf("expected first resolution to win, got %+v", value)
	}
	if f.Err() != nil {
		t.Fatalf("expected no error after resolve, got %v", f.Err())
	}
}

func TestFailPlaceholder(t *testing.T) {
	f := New()
	cause := errors.New("early process end")
	f.Fail(cause)

	value, state := f.Poll()
	if state != Failed {
		t.Fatalf("expected failed state, got %v", state)
	}
	if value.Edit != FailedPlaceholder || value.Preview != FailedPlaceholder {
		t.Fatalf("expected placeholder resolution, got %+v", value)
	}
	if !errors.Is(f.Err(), cause) {
		t.Fatalf("expected cause to be preserved, got %v", f.Err())
	}
}

func TestWaitBlocksUntilResolve(t *testing.T) {
	f := New()
	want := Resolution{Preview: "http://localhost:5222/"}

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Resolve(want)
	}()

	value, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if value != want {
		t.Fatalf("expected %+v, got %+v", want, value)
	}
}

func TestWaitContextCancel(t *testing.T) {
	f := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWaitFailedReturnsCause(t *testing.T) {
	f := New()
	cause := errors.New("spawn failed")
	f.Fail(cause)

	value, err := f.Wait(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause, got %v", err)
	}
	if value.Edit != FailedPlaceholder {
		t.Fatalf("expected placeholder, got %+v", value)
	}
}
