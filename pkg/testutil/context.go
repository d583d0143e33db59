package testutil

import (
	"net/http"

	id "policyvault/pkg/domain"
	"policyvault/pkg/requestcontext"
)

// WithCaller adds an authenticated caller to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithCaller(req *http.Request, caller id.Identity) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}
