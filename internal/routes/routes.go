// Package routes lists, deletes and creates email routing rules in bulk.
package routes

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/galpt/go-cfer/internal/cf"
)

const (
	// PageSize is the per_page value used when listing rules.
	PageSize = 50
	// DeleteConcurrency caps in-flight delete requests.
	DeleteConcurrency = 10
	// CreateConcurrency caps in-flight create requests.
	CreateConcurrency = 25
)

// ErrListFailed is returned when the service reports a failed listing.
var ErrListFailed = errors.New("an unknown error occurred listing e-mail routes")

// API is the subset of the Cloudflare client used here.
type API interface {
	ListRules(ctx context.Context, page, perPage int) (*cf.ListResponse, error)
	CreateRule(ctx context.Context, rule cf.RoutingRule) (*cf.Response, error)
	DeleteRule(ctx context.Context, id string) (*cf.Response, error)
}

// Reporter receives one status line per request.
type Reporter interface {
	Status(subject, outcome string)
}

// Summary counts the outcome of a bulk operation.
type Summary struct {
	Total     int
	Succeeded int
	Conflicts int
}

// fanOut runs fn for every item with at most limit calls in flight. A new call
// starts as soon as a slot frees. After the first error no further items are
// started; calls already running finish on ctx, not on the group context.
func fanOut[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return fn(ctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
