// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"hotel-concierge/internal/resilience"
)

// Errors shared by the channel adapters
var (
	// ErrInvalidDestination: the destination cannot be addressed on this channel
	ErrInvalidDestination = errors.New("invalid delivery destination")

	// ErrRateLimited indicates the platform throttled us; it is retried
	ErrRateLimited = errors.New("platform rate limit exceeded")
)

// DeliveryPolicy is the retry schedule of every outbound channel message:
// 3 attempts, exponential backoff from 500ms
var DeliveryPolicy = resilience.Policy{
	Attempts:       3,
	Base:           500 * time.Millisecond,
	Exponential:    true,
	MaxDelay:       4 * time.Second,
	AttemptTimeout: 10 * time.Second,
}

// APIError is a non-2xx answer from a platform API
type APIError struct {
	Platform string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Platform, e.Status, e.Body)
}

// classify decides whether a failed HTTP answer is worth another attempt.
// Throttling and server errors are; every other 4xx is permanent.
func classify(err *APIError) error {
	if err.Status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	if err.Status >= 500 {
		return err
	}
	return resilience.Permanent(err)
}

// truncate cuts text to at most limit runes, marking the cut with an ellipsis
func truncate(text string, limit int) string {
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return text
	}
	return string(r[:limit-1]) + "…"
}

// call performs one HTTP round trip and returns the body of a 2xx answer.
// Non-2xx answers come back as classified *APIError values.
func call(client *http.Client, req *http.Request, platform string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", platform, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", platform, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, classify(&APIError{Platform: platform, Status: resp.StatusCode, Body: string(body)})
	}
	return body, nil
}

// deliverWithRetry runs one delivery attempt function under DeliveryPolicy,
// logging every failed attempt the way the platform clients always have
func deliverWithRetry(ctx context.Context, policy resilience.Policy, platform, destination string, attempt func(ctx context.Context) error) error {
	n := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		n++
		err := attempt(ctx)
		if err != nil && !resilience.IsPermanent(err) && n < policy.Attempts {
			slog.Warn("Retrying message delivery",
				"platform", platform,
				"attempt", n,
				"max_attempts", policy.Attempts,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("deliver to %s %s after %d attempt(s): %w", platform, destination, n, err)
	}
	slog.Info("Message delivered",
		"platform", platform,
		"destination", destination,
		"attempts", n,
	)
	return nil
}
