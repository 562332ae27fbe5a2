package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/study-assistant/internal/domain"
)

func TestBounded_PassesThrough(t *testing.T) {
	b := NewBounded(GeneratorFunc(func(_ context.Context, p string, _ []Turn, _ *domain.Attachment) (string, error) {
		return "echo:" + p, nil
	}), time.Second, 2)
	got, err := b.Generate(context.Background(), "hi", nil, nil)
	if err != nil || got != "echo:hi" {
		t.Fatalf("got %q, %v", got, err)
	}

	boom := errors.New("boom")
	b = NewBounded(GeneratorFunc(func(context.Context, string, []Turn, *domain.Attachment) (string, error) {
		return "", boom
	}), 0, 0)
	if _, err := b.Generate(context.Background(), "hi", nil, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestBounded_Timeout(t *testing.T) {
	b := NewBounded(GeneratorFunc(func(ctx context.Context, _ string, _ []Turn, _ *domain.Attachment) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 20*time.Millisecond, 1)

	start := time.Now()
	_, err := b.Generate(context.Background(), "hi", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestBounded_CapsConcurrency(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	b := NewBounded(GeneratorFunc(func(context.Context, string, []Turn, *domain.Attachment) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return "ok", nil
	}), 5*time.Second, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Generate(context.Background(), "q", nil, nil)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if peak > 2 {
		t.Fatalf("peak concurrency = %d; want <= 2", peak)
	}
}

func TestBounded_QueueTimeout(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	b := NewBounded(GeneratorFunc(func(ctx context.Context, _ string, _ []Turn, _ *domain.Attachment) (string, error) {
		select {
		case <-hold:
		case <-ctx.Done():
		}
		return "", ctx.Err()
	}), 30*time.Millisecond, 1)

	go func() { _, _ = b.Generate(context.Background(), "first", nil, nil) }()
	time.Sleep(5 * time.Millisecond)
	if _, err := b.Generate(context.Background(), "second", nil, nil); err == nil {
		t.Fatal("expected error while waiting for a slot")
	}
}
