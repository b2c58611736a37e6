package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/wire"
)

// MaxReselections bounds retry-by-reselection. Retries happen only at this
// layer; verification failures are never retried.
const MaxReselections = 3

// Attempt is one retry-by-reselection attempt's outcome, fed back into
// SelectWithRetry so it can avoid re-picking a gateway that just failed.
type Attempt func(ctx context.Context, sel *Selection) error

// SelectWithRetry selects a gateway and invokes attempt; on a retryable
// failure (GatewayUnreachable, or Timeout at most once per call) it
// re-selects. The same strategy
// may return the same gateway again, so addresses already tried are
// tracked and re-selection resamples until a fresh address turns up or
// attempts run out, with exponential backoff between attempts.
//
// Every attempt against a real gateway (sel.Gateway != nil; static/default
// selections have none and skip both) is gated by that gateway's circuit
// breaker and reports its outcome, success or failure, to both the breaker
// and the performance cache feeding the optimal and fastest-ping
// strategies' cached averages.
func (r *Router) SelectWithRetry(ctx context.Context, ref wire.ContentReference, attempt Attempt) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by MaxReselections, not wall-clock

	seen := make(map[string]bool)
	var lastErr error
	timeoutRetried := false

	for try := 0; try <= MaxReselections; try++ {
		if err := ctx.Err(); err != nil {
			return errors.ErrCancelled.WithReference(ref.String())
		}

		sel, err := r.selectExcluding(ctx, ref, seen)
		if err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if sel.Gateway != nil {
			seen[sel.Gateway.Address] = true
		}

		var report func(success bool)
		if r.Breakers != nil && sel.Gateway != nil {
			done, allowed := r.Breakers.ForGateway(sel.Gateway).Allow()
			if !allowed {
				lastErr = errors.ErrGatewayUnreachable.WithGateway(sel.Gateway.Address)
				if try == MaxReselections {
					return lastErr
				}
				select {
				case <-ctx.Done():
					return errors.ErrCancelled.WithReference(ref.String())
				case <-time.After(bo.NextBackOff()):
				}
				continue
			}
			report = done
		}

		attemptCtx, span := otel.Tracer("arverify/router").Start(ctx, "router.attempt")
		span.SetAttributes(
			attribute.String("strategy", string(r.Strategy)),
			attribute.Int("try", try),
		)
		if sel.Gateway != nil {
			span.SetAttributes(attribute.String("gateway", sel.Gateway.Address))
		}

		start := time.Now()
		err = attempt(attemptCtx, sel)
		elapsed := time.Since(start)
		success := err == nil
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if report != nil {
			report(success)
		}
		if r.Perf != nil && sel.Gateway != nil {
			r.Perf.RecordOutcome(sel.Gateway.FQDN, elapsed, success)
		}

		if success {
			return nil
		}
		lastErr = err

		re, ok := errors.As(err)
		retryable := ok && (re.Kind == errors.KindGatewayUnreachable || re.Kind == errors.KindTimeout)
		if ok && re.Kind == errors.KindTimeout {
			retryable = !timeoutRetried
			timeoutRetried = true
		}
		if !retryable || try == MaxReselections {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.ErrCancelled.WithReference(ref.String())
		case <-time.After(bo.NextBackOff()):
		}
	}
	return lastErr
}

// selectExcluding runs Select, and for strategies that might repeat a
// recently-failed gateway, resamples a bounded number of times to avoid it.
func (r *Router) selectExcluding(ctx context.Context, ref wire.ContentReference, seen map[string]bool) (*Selection, error) {
	const maxResamples = 5
	var sel *Selection
	var err error
	for i := 0; i < maxResamples; i++ {
		sel, err = r.Select(ctx, ref)
		if err != nil {
			return nil, err
		}
		if sel.Gateway == nil || !seen[sel.Gateway.Address] {
			return sel, nil
		}
	}
	return sel, nil
}
