// Package requestcontext carries request-scoped values from the HTTP
// middleware down to the workflow service and the audit publisher without
// either depending on net/http.
package requestcontext

import (
	"context"
	"time"

	id "crvs/pkg/domain"
)

type key int

const (
	practitionerKey key = iota
	clientKey
	requestIDKey
	timeKey
)

type client struct {
	ip        string
	userAgent string
}

func value[T any](ctx context.Context, k key) T {
	v, _ := ctx.Value(k).(T)
	return v
}

// PractitionerID is the caller resolved from the bearer credential, or the
// nil ID outside an authenticated request.
func PractitionerID(ctx context.Context) id.PractitionerID {
	return value[id.PractitionerID](ctx, practitionerKey)
}

func WithPractitionerID(ctx context.Context, p id.PractitionerID) context.Context {
	return context.WithValue(ctx, practitionerKey, p)
}

func ClientIP(ctx context.Context) string  { return value[client](ctx, clientKey).ip }
func UserAgent(ctx context.Context) string { return value[client](ctx, clientKey).userAgent }

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, client{ip: clientIP, userAgent: userAgent})
}

func RequestID(ctx context.Context) string {
	return value[string](ctx, requestIDKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now is the time pinned for this request. Workers and the CLI have none
// and get the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the time every write in one action shares.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey, t)
}
