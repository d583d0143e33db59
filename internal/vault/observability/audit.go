// Package observability provides audit logging helpers for the vault module.
package observability

import (
	"context"
	"log/slog"

	"policyvault/pkg/requestcontext"
)

// LogAudit logs an audit-relevant event with the request ID and caller taken
// from ctx. A nil logger drops the event.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrList ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}
	if caller := requestcontext.Caller(ctx); !caller.IsZero() {
		attrList = append(attrList, "caller", string(caller))
	}

	args := append(attrList, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
