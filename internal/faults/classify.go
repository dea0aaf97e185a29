// Package faults maps raw operation failures to a closed set of error kinds
// with a retryability verdict and severity, and computes retry backoff.
// Classification is deliberately conservative: anything unrecognized is
// KindUnknown and not retried, so unclassified failures cannot loop forever.
package faults

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nexamanager/mailsync/internal/remote"
)

// Kind identifies a failure category.
type Kind string

const (
	KindNetwork            Kind = "network"
	KindTimeout            Kind = "timeout"
	KindAuth               Kind = "auth"
	KindTokenExpired       Kind = "token_expired"
	KindRateLimited        Kind = "rate_limited"
	KindServerTemporary    Kind = "server_temporary"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInvalidInput       Kind = "invalid_input"
	KindStorage            Kind = "storage"
	KindSyncConflict       Kind = "sync_conflict"
	KindUnknown            Kind = "unknown"
)

// Severity grades how urgently a failure needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the verdict for a single failure.
type Classification struct {
	Kind      Kind
	Retryable bool
	Severity  Severity
}

// retryableKinds are the transient categories worth another attempt.
var retryableKinds = map[Kind]bool{
	KindNetwork:            true,
	KindTimeout:            true,
	KindRateLimited:        true,
	KindServerTemporary:    true,
	KindServiceUnavailable: true,
}

// Retryable reports whether the given kind is transient.
func Retryable(kind Kind) bool {
	return retryableKinds[kind]
}

// Classify inspects an error and returns its kind, retryability, and
// severity. Structured API errors are classified by status code; everything
// else falls back to message pattern matching.
func Classify(err error) Classification {
	kind := classifyKind(err)

	return Classification{
		Kind:      kind,
		Retryable: retryableKinds[kind],
		Severity:  severityFor(kind),
	}
}

func classifyKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "token") && strings.Contains(msg, "expired"):
		return KindTokenExpired
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"):
		return KindAuth
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return KindNetwork
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "service unavailable"):
		return KindServiceUnavailable
	case strings.Contains(msg, "conflict"):
		return KindSyncConflict
	case strings.Contains(msg, "storage"), strings.Contains(msg, "database"), strings.Contains(msg, "sqlite"):
		return KindStorage
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"):
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

func classifyStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusRequestTimeout:
		return KindTimeout
	case http.StatusConflict:
		return KindSyncConflict
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalidInput
	case http.StatusServiceUnavailable:
		return KindServiceUnavailable
	default:
		if status >= http.StatusInternalServerError {
			return KindServerTemporary
		}

		return KindUnknown
	}
}

func severityFor(kind Kind) Severity {
	switch kind {
	case KindAuth, KindTokenExpired, KindStorage:
		return SeverityCritical
	case KindNetwork, KindServiceUnavailable:
		return SeverityHigh
	case KindRateLimited, KindTimeout, KindServerTemporary:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
