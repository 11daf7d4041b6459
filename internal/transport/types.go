// Package transport defines the delivery port the pipeline sends through.
package transport

import (
	"context"

	"kvpush/internal/model"
)

// Deliverer sends one rendered message to the configured destination.
//
// Send never returns an error: every failure (network, API rejection) is
// reported in the result so the caller can decide to fall back or move on.
type Deliverer interface {
	Send(ctx context.Context, msg model.Message) model.DeliveryResult
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, msg model.Message) model.DeliveryResult

func (f DelivererFunc) Send(ctx context.Context, msg model.Message) model.DeliveryResult {
	return f(ctx, msg)
}

// Discard logs nothing and reports success; dry runs use it.
var Discard Deliverer = DelivererFunc(func(context.Context, model.Message) model.DeliveryResult {
	return model.DeliveryResult{OK: true}
})
