package automation

import (
	"errors"

	"github.com/znz-systems/mailpilot/internal/account"
	"github.com/znz-systems/mailpilot/internal/mail"
	"github.com/znz-systems/mailpilot/internal/quota"
)

// The sentinels owned by lower layers are re-exported so callers only need
// this package to classify a failure.
var (
	ErrInvalidInput   = account.ErrInvalidInput
	ErrNotConnected   = account.ErrNotConnected
	ErrDisabled       = quota.ErrDisabled
	ErrQuotaExceeded  = quota.ErrQuotaExceeded
	ErrThreadNotFound = mail.ErrThreadNotFound

	ErrPolicyRejected    = errors.New("thread requires manual review")
	ErrPolicyUnavailable = errors.New("approval policy unavailable")
	ErrGenerationFailed  = errors.New("reply generation failed")
	ErrDispatchFailed    = errors.New("reply dispatch failed")
)

// Reason returns the stable machine-readable reason for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrDisabled):
		return quota.ReasonDisabled
	case errors.Is(err, ErrQuotaExceeded):
		return quota.ReasonQuotaExceeded
	case errors.Is(err, ErrThreadNotFound):
		return "thread_not_found"
	case errors.Is(err, ErrPolicyRejected):
		return "policy_rejected"
	case errors.Is(err, ErrPolicyUnavailable):
		return "policy_unavailable"
	case errors.Is(err, ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch_failed"
	default:
		return "internal"
	}
}
