package metrics

import (
	"context"
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
)

type newRelicContextKey struct{}

// NewRelicContextKey is the context key under which the New Relic
// application is made available to metrics utilities.
var NewRelicContextKey = newRelicContextKey{}

// ContextWithApp injects the New Relic application into the context for use
// by RecordEvent, RecordCount and friends.
func ContextWithApp(ctx context.Context, app *newrelic.Application) context.Context {
	if app == nil {
		return ctx
	}
	return context.WithValue(ctx, NewRelicContextKey, app)
}

// InstrumentHTTPHandler wraps an HTTP handler so each request runs inside a
// New Relic transaction, with the application injected into the request
// context.
func InstrumentHTTPHandler(app *newrelic.Application, pattern string, handler http.HandlerFunc) (string, http.HandlerFunc) {
	if app == nil {
		return pattern, handler
	}

	wrappedPattern, wrappedHandler := newrelic.WrapHandleFunc(app, pattern, handler)
	return wrappedPattern, func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(ContextWithApp(r.Context(), app))
		wrappedHandler(w, r)
	}
}
