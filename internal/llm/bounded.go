package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/observability"
)

// Bounded wraps a Generator so that every call waits for one of a fixed
// number of slots and then runs under a deadline. Waiting for a slot counts
// against the same deadline.
type Bounded struct {
	next    Generator
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewBounded returns a Generator limited to maxConcurrent in-flight calls,
// each bounded by timeout. Non-positive values disable the respective limit.
func NewBounded(next Generator, timeout time.Duration, maxConcurrent int64) *Bounded {
	b := &Bounded{next: next, timeout: timeout}
	if maxConcurrent > 0 {
		b.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return b
}

// Generate implements Generator.
func (b *Bounded) Generate(ctx context.Context, prompt string, history []Turn, attachment *domain.Attachment) (string, error) {
	ctx, span := otel.Tracer("llm/Bounded").Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("history.len", len(history)),
		attribute.Bool("attachment", attachment != nil),
	)

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			observability.ObserveGeneration("queue_timeout", time.Since(start))
			span.SetStatus(codes.Error, "no generation slot")
			return "", fmt.Errorf("waiting for generation slot: %w", err)
		}
		defer b.sem.Release(1)
	}

	text, err := b.next.Generate(ctx, prompt, history, attachment)
	switch {
	case err == nil:
		observability.ObserveGeneration("ok", time.Since(start))
	case ctx.Err() == context.DeadlineExceeded:
		observability.ObserveGeneration("timeout", time.Since(start))
	default:
		observability.ObserveGeneration("error", time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	return text, nil
}
