// Package pager turns token-paginated AWS listings into lazy sequences.
//
// Every range over a sequence starts again from the first page, so a
// sequence value can be kept and iterated more than once.
package pager

import (
	"context"
	"iter"
)

// FetchFunc retrieves one page. token is nil for the first page; the
// returned next token is nil or empty after the last page.
type FetchFunc[T any] func(ctx context.Context, token *string) (items []T, next *string, err error)

// Seq yields every item of every page in listing order. A fetch error is
// yielded once, with the zero item, and ends the sequence.
//
// Like the SDK paginators, iteration also stops when the service hands back
// the token it was just given.
func Seq[T any](ctx context.Context, fetch FetchFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var token *string
		for {
			items, next, err := fetch(ctx, token)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == nil || *next == "" {
				return
			}
			if token != nil && *token == *next {
				return
			}
			token = next
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
