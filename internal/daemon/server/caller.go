package server

import (
	"context"
	"net/http"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/pkg/models"
)

type callerKey struct{}

// WithCaller returns a context carrying the identity of the requesting
// process.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(models.Caller)
	return caller, ok
}

type callerHandler func(w http.ResponseWriter, r *http.Request, caller models.Caller)

// withCaller rejects requests whose peer identity is unknown.
func (s *Server) withCaller(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, errors.New(errors.ErrCodePermissionDenied, "caller identity unavailable"))
			return
		}
		next(w, r, caller)
	}
}
