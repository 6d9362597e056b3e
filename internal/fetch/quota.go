package fetch

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// quotaWait returns how long to pause before the next request when the
// server's remaining quota is at or below the safety margin. ok is false
// when no pause is needed or the headers are absent.
func quotaWait(h http.Header, safety int, minWait time.Duration, now time.Time) (wait time.Duration, remaining int, ok bool) {
	raw := strings.TrimSpace(h.Get(HeaderRateLimitRemaining))
	if raw == "" {
		return 0, 0, false
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil || remaining > safety {
		return 0, remaining, false
	}

	wait = minWait
	if reset := strings.TrimSpace(h.Get(HeaderRateLimitReset)); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if untilReset := time.Unix(epoch, 0).Sub(now); untilReset > wait {
				wait = untilReset
			}
		}
	}
	return wait, remaining, true
}

func (f *Fetcher) paceQuota(ctx context.Context, h http.Header) error {
	wait, remaining, ok := quotaWait(h, f.opts.SafetyRemaining, f.opts.MinWait, nowFunc())
	if !ok {
		return nil
	}
	f.quotaPauses.Add(1)
	f.logger.Info("rate limit quota low, pausing", "remaining", remaining, "sleep", wait)
	return fetchSleepFunc(ctx, wait)
}

// retryAfter parses a Retry-After value in whole seconds
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(h.Get(HeaderRetryAfter))
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
