// Package sentryutil scopes Sentry state to one scheduled run. Each run
// gets a cloned hub so breadcrumbs and tags never leak between invocations
// sharing a process (the serve mode).
package sentryutil

import (
	"context"
	"os"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

type contextKey string

const hubContextKey contextKey = "sentry_hub"

// Init configures the global Sentry client from SENTRY_DSN. An empty DSN
// disables reporting, which is the normal local-development setup.
func Init() {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              os.Getenv("SENTRY_DSN"),
		TracesSampleRate: 1.0,
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
}

// Flush drains pending events; call before the process exits.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// StartRunTransaction opens a transaction for one pipeline run with an
// isolated hub.
func StartRunTransaction(ctx context.Context, runName string) (context.Context, *sentry.Span) {
	hub := sentry.CurrentHub().Clone()
	ctx = context.WithValue(ctx, hubContextKey, hub)

	transaction := sentry.StartTransaction(ctx, "run."+runName,
		sentry.WithOpName("scheduled.run"),
		sentry.WithTransactionSource(sentry.SourceTask),
	)
	transaction.SetTag("run", runName)
	hub.Scope().SetSpan(transaction)

	return transaction.Context(), transaction
}

// HubFromContext returns the run's hub, falling back to the global one.
func HubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return sentry.CurrentHub()
	}
	if hub, ok := ctx.Value(hubContextKey).(*sentry.Hub); ok && hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// CaptureException reports err on the run's hub.
func CaptureException(ctx context.Context, err error) *sentry.EventID {
	return HubFromContext(ctx).CaptureException(err)
}
