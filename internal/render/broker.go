// Package render is the bounded-concurrency async producer that stands
// between the intake endpoint and the Job Store's content field.
// Everything about *what* it renders (HTML templating, headless-browser
// rasterization, monochrome thresholding, cut-command bytes) is out of
// scope per spec.md §1; this package only owns the scheduling contract
// the dispatcher depends on: submit now, attach later, never hold the
// job-store lock while doing it.
package render

import (
	"context"
	"log"
	"sync"
)

// Store is the subset of core.JobStore the broker needs. Kept as an
// interface so tests can substitute a fake without dragging in the full
// job store.
type Store interface {
	AttachContent(token string, content []byte)
	MarkRenderFailed(token string)
}

// Broker bounds concurrent renders and dispatches completions back into
// the Job Store. Grounded on the teacher's Queue worker pool
// (internal/core/queue.go: workers/jobCh), simplified from a persistent
// worker pool pulling off a channel to a semaphore-gated goroutine per
// submission, since renders here are already fire-and-forget rather than
// requiring in-order draining of a durable table.
type Broker struct {
	renderer Renderer
	store    Store
	sem      chan struct{}
	wg       sync.WaitGroup
}

// NewBroker builds a broker with the given concurrency limit. The spec's
// design value is 2.
func NewBroker(renderer Renderer, store Store, concurrency int) *Broker {
	if concurrency < 1 {
		concurrency = 2
	}
	return &Broker{
		renderer: renderer,
		store:    store,
		sem:      make(chan struct{}, concurrency),
	}
}

// Submit queues one render for the given HTML and attaches the resulting
// bytes to every token in tokens on success (multi-tenant fan-out shares
// one render), or marks each token failed on error. Returns immediately;
// the caller must not be holding the job-store lock.
func (b *Broker) Submit(ctx context.Context, tokens []string, html string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		select {
		case b.sem <- struct{}{}:
		case <-ctx.Done():
			for _, t := range tokens {
				b.store.MarkRenderFailed(t)
			}
			return
		}
		defer func() { <-b.sem }()

		content, err := b.renderer.Render(ctx, html)
		if err != nil {
			log.Printf("[render] failed for %d token(s): %v", len(tokens), err)
			for _, t := range tokens {
				b.store.MarkRenderFailed(t)
			}
			return
		}

		for _, t := range tokens {
			b.store.AttachContent(t, content)
		}
	}()
}

// Wait blocks until every submitted render has completed. Intended for
// graceful shutdown and tests, not the request path.
func (b *Broker) Wait() {
	b.wg.Wait()
}
