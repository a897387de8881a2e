package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/rate"
)

// StatusError is returned for non-retryable upstream responses so callers
// can classify auth failures (401/403) and end-of-pagination (404).
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
// Network errors and 5xx responses are retried with backoff up to retryMax;
// 4xx responses surface as *StatusError without retry.
type Executor struct {
	logger   *zap.Logger
	limiter  *rate.Limiter
	http     *http.Client
	retryMax int
	tag      string
}

// New creates an Executor. tag prefixes log event names.
func New(logger *zap.Logger, limiter *rate.Limiter, httpClient *http.Client, retryMax int, tag string) *Executor {
	return &Executor{
		logger:   logger,
		limiter:  limiter,
		http:     httpClient,
		retryMax: retryMax,
		tag:      tag,
	}
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the
// response body into out (skipped when out is nil or the body is empty).
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, out any) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		start := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			e.logger.Warn(e.tag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if sleepErr := sleepCtx(ctx, Backoff(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.tag, resp.StatusCode)
			if sleepErr := sleepCtx(ctx, Backoff(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return &StatusError{Status: resp.StatusCode, Body: string(body)}
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.tag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.tag, e.retryMax+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
