// Package ratelimit paces requests to the search API.
//
// SlidingWindow admits at most N requests in any rolling window. The search
// client calls Wait before each request when rate_limit.requests_per_minute
// is set; PerMinute returns nil when pacing is disabled.
//
//	limiter := ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)
//	if limiter != nil {
//		if err := limiter.Wait(ctx); err != nil {
//			return err
//		}
//	}
package ratelimit
