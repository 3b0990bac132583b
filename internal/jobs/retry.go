package jobs

import (
	"strings"
	"time"
)

// ErrorKind classifies a handler failure for retry policy
type ErrorKind string

const (
	// ErrorTransient covers network errors, timeouts, 5xx and rate limits.
	// Eligible for auto-retry with exponential backoff.
	ErrorTransient ErrorKind = "transient"
	// ErrorPaywall covers quota/credit/billing exhaustion. Never retried.
	ErrorPaywall ErrorKind = "paywall"
	// ErrorInvalid covers malformed input, missing objects and parse errors.
	// Never retried.
	ErrorInvalid ErrorKind = "invalid"
	// ErrorPermanent is the default for everything else. Never retried.
	ErrorPermanent ErrorKind = "permanent"
)

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"socket hang up",
	"econnreset",
	"econnrefused",
	"etimedout",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"too many requests",
	"rate limit",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"http 429",
	"http 500",
	"http 502",
	"http 503",
	"http 504",
	"overloaded",
	"network",
	"eof",
}

var paywallMarkers = []string{
	"quota",
	"insufficient credit",
	"credits exhausted",
	"billing",
	"payment required",
	"status 402",
	"plan limit",
}

var invalidMarkers = []string{
	"not found",
	"no such key",
	"nosuchkey",
	"malformed",
	"invalid input",
	"invalid json",
	"parse error",
	"unmarshal",
	"unsupported source type",
	"unknown source type",
	"unknown job type",
	"missing required",
	"validation failed",
}

// ClassifyError maps an error to an ErrorKind by inspecting its message.
// Paywall and invalid markers are checked before transient ones so that
// "rate limit exceeded for your billing plan" lands on paywall.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorPermanent
	}
	msg := strings.ToLower(err.Error())

	for _, m := range paywallMarkers {
		if strings.Contains(msg, m) {
			return ErrorPaywall
		}
	}
	for _, m := range invalidMarkers {
		if strings.Contains(msg, m) {
			return ErrorInvalid
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return ErrorTransient
		}
	}
	return ErrorPermanent
}

// Retryable returns true if the kind is eligible for auto-retry
func (k ErrorKind) Retryable() bool {
	return k == ErrorTransient
}

// RetryDelay computes the backoff before the given retry attempt.
// retryCount is the number of retries already consumed; the schedule is
// 1, 2, 4, 8, 16, 30, 30, ... minutes.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	minutes := 30
	if retryCount < 5 {
		minutes = 1 << retryCount
	}
	if minutes > 30 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}
