package dbrest

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/ambiyansyah-risyal/dbrest/internal/demux"
)

// Item is one decoded unit of a response: the whole body, one row, or one
// multipart part. Content is a JSON value, *XMLNode, string, []string (CSV
// row) or []byte depending on the content type.
type Item = demux.Part

// XMLNode is a parsed XML element.
type XMLNode = demux.Node

// ResultProvider is the eventual outcome of one operation: zero or more
// items followed by exactly one terminal success or failure. It is safe for
// concurrent use.
//
// Item callbacks registered with OnItem run on the producing goroutine in
// item order and never after the provider settled. Terminal callbacks run
// once.
type ResultProvider[T any] struct {
	mu       sync.Mutex
	items    []T
	err      error
	settled  bool
	done     chan struct{}
	grown    chan struct{}
	itemSubs []*itemSub[T]
	terminal []terminalSub[T]
}

type itemSub[T any] struct {
	mu     sync.Mutex
	fn     func(T)
	closed bool
}

type terminalSub[T any] struct {
	onSuccess func([]T)
	onFailure func(error)
}

// NewResultProvider returns a pending provider. Producers call Emit zero or
// more times and then Resolve or Reject once.
func NewResultProvider[T any]() *ResultProvider[T] {
	return &ResultProvider[T]{
		done:  make(chan struct{}),
		grown: make(chan struct{}),
	}
}

// Emit appends an item. It is ignored once the provider settled.
func (p *ResultProvider[T]) Emit(item T) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.items = append(p.items, item)
	close(p.grown)
	p.grown = make(chan struct{})
	subs := slices.Clone(p.itemSubs)
	p.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.fn(item)
		}
		s.mu.Unlock()
	}
}

// Resolve settles the provider successfully with the items emitted so far.
func (p *ResultProvider[T]) Resolve() {
	p.settle(nil)
}

// Reject settles the provider with err.
func (p *ResultProvider[T]) Reject(err error) {
	p.settle(err)
}

func (p *ResultProvider[T]) settle(err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.err = err
	items := p.items
	subs := p.itemSubs
	terminal := p.terminal
	p.itemSubs = nil
	p.terminal = nil
	close(p.done)
	close(p.grown)
	p.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}
	for _, t := range terminal {
		t.fire(items, err)
	}
}

func (t terminalSub[T]) fire(items []T, err error) {
	if err != nil {
		if t.onFailure != nil {
			t.onFailure(err)
		}
		return
	}
	if t.onSuccess != nil {
		t.onSuccess(slices.Clone(items))
	}
}

// Result registers terminal callbacks. Exactly one of them runs once; if
// the provider already settled it runs immediately. Either may be nil.
func (p *ResultProvider[T]) Result(onSuccess func([]T), onFailure func(error)) {
	t := terminalSub[T]{onSuccess: onSuccess, onFailure: onFailure}
	p.mu.Lock()
	if !p.settled {
		p.terminal = append(p.terminal, t)
		p.mu.Unlock()
		return
	}
	items, err := p.items, p.err
	p.mu.Unlock()
	t.fire(items, err)
}

// OnItem registers fn for every item. Items already emitted are replayed to
// fn first. After the provider settled OnItem does nothing; use Result,
// Wait or Stream to read the items.
func (p *ResultProvider[T]) OnItem(fn func(T)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	s := &itemSub[T]{fn: fn}
	s.mu.Lock()
	seen := slices.Clone(p.items)
	p.itemSubs = append(p.itemSubs, s)
	p.mu.Unlock()

	for _, item := range seen {
		fn(item)
	}
	s.mu.Unlock()
}

// Done is closed when the provider settles.
func (p *ResultProvider[T]) Done() <-chan struct{} {
	return p.done
}

// Err returns the failure, or nil while pending or after success.
func (p *ResultProvider[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Items returns the items emitted so far.
func (p *ResultProvider[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.items)
}

// Wait blocks until the provider settles or ctx is done. On success it
// returns every item.
func (p *ResultProvider[T]) Wait(ctx context.Context) ([]T, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return slices.Clone(p.items), nil
}

// Stream yields items as they arrive, starting from the first item on every
// call. A failure, or ctx ending first, is yielded last with a zero item.
func (p *ResultProvider[T]) Stream(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for i := 0; ; i++ {
			p.mu.Lock()
			for i >= len(p.items) && !p.settled {
				grown := p.grown
				p.mu.Unlock()
				select {
				case <-grown:
				case <-ctx.Done():
					yield(zero, ctx.Err())
					return
				}
				p.mu.Lock()
			}
			if i < len(p.items) {
				item := p.items[i]
				p.mu.Unlock()
				if !yield(item, nil) {
					return
				}
				continue
			}
			err := p.err
			p.mu.Unlock()
			if err != nil {
				yield(zero, err)
			}
			return
		}
	}
}

// pipeProvider derives a provider from src. step maps each source item to
// zero or more items; finish, when not nil, runs after the last source
// item and may emit trailing items. A failure of src, step or finish
// rejects the derived provider.
func pipeProvider[T, U any](ctx context.Context, src *ResultProvider[T], step func(T) ([]U, error), finish func() ([]U, error)) *ResultProvider[U] {
	dst := NewResultProvider[U]()
	go func() {
		for item, err := range src.Stream(ctx) {
			if err != nil {
				dst.Reject(err)
				return
			}
			out, err := step(item)
			if err != nil {
				dst.Reject(err)
				return
			}
			for _, u := range out {
				dst.Emit(u)
			}
		}
		if finish != nil {
			out, err := finish()
			if err != nil {
				dst.Reject(err)
				return
			}
			for _, u := range out {
				dst.Emit(u)
			}
		}
		dst.Resolve()
	}()
	return dst
}
