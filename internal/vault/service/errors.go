package service

import (
	"context"
	"errors"

	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/platform/sentinel"
)

// translate maps store, ledger and lock errors onto domain codes. Errors that
// already carry a code pass through. notFound names the missing record.
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "record already exists")
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return dErrors.Wrap(err, dErrors.CodeInsufficientFunds, "vault balance too low")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "dependency unavailable")
	case errors.Is(err, sentinel.ErrOverflow):
		return dErrors.Wrap(err, dErrors.CodeOverflow, "arithmetic overflow")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
	}
}

// custodyFailureKind labels custody failures for metrics.
func custodyFailureKind(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, sentinel.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// requireIdentity rejects identities that would not pass ParseIdentity.
// Records and audit hashes assume identities within MaxIdentityLength.
func requireIdentity(v id.Identity, field string) error {
	if v.IsZero() {
		return dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	if _, err := id.ParseIdentity(string(v)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, field+": "+dErrors.MessageOf(err))
	}
	return nil
}

// requireCaller rejects a missing or malformed caller as unauthorized.
func requireCaller(caller id.Identity) error {
	if _, err := id.ParseIdentity(string(caller)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "caller identity is invalid")
	}
	return nil
}
