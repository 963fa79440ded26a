package llm

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrQuotaExhausted is the service's rate-limit signal.
	ErrQuotaExhausted = errors.New("inference quota exhausted")
	// ErrQuotaStillExhausted is returned once the gateway gives up waiting out the quota.
	ErrQuotaStillExhausted = errors.New("inference quota still exhausted after cooldown cycles")
	// ErrUnparseable means a response held no usable JSON value.
	ErrUnparseable = errors.New("unparseable model response")
)

var quotaMarkers = []string{
	"429",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
	"rate limit",
	"ratelimit",
	"quota",
}

// IsQuotaError reports whether err looks like a provider rate-limit response.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExhausted) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
