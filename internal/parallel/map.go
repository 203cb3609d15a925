package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[Out any] struct {
	v Out
	e error
}

// Map runs a mapping function over an input iterator with a bounded number
// of workers and yields results as they complete. Order of results is not
// kept. Map is context aware, a cancelled context ends the processing.
//
//	for desc, err := range parallel.NewMap(ctx, 4, parse).Iter(entries) {}
type Map[In, Out any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	results      chan result[Out]
	mapFunc      func(context.Context, In) (Out, error)
}

func NewMap[In, Out any](parentCtx context.Context, limit int, mapFunc func(context.Context, In) (Out, error)) *Map[In, Out] {
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	// one extra slot for the feeding goroutine
	g.SetLimit(limit + 1)

	return &Map[In, Out]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		results:      make(chan result[Out], limit),
		mapFunc:      mapFunc,
	}
}

func (m *Map[In, Out]) goWorkers(seq iter.Seq2[In, error]) {
	m.g.Go(func() error {
		for in, nerr := range seq {
			if nerr != nil {
				continue
			}
			m.g.Go(func() error {
				out, mapErr := m.mapFunc(m.gctx, in)
				select {
				case <-m.gctx.Done():
					return m.gctx.Err()
				default:
					m.results <- result[Out]{v: out, e: mapErr}
				}
				return nil
			})
		}
		return nil
	})
}

func (m *Map[In, Out]) Iter(seq iter.Seq2[In, error]) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		defer m.cancelParent()
		m.goWorkers(seq)

		go func() {
			_ = m.g.Wait()
			close(m.results)
		}()

		for r := range m.results {
			if m.parentCtx.Err() != nil {
				return
			}
			if !yield(r.v, r.e) {
				return
			}
		}
	}
}
