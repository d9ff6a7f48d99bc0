package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until the queue signals new work for a kind, or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context, kind model.QueueKind) error
}

// Notifier fans queue wakeups out to idle workers.
type Notifier interface {
	Subscribe(kind model.QueueKind) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the default notifier.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds each wait so workers also poll for backoff-delayed entries.
	WaitWindow time.Duration
	// Backoff is the pause after a failed wait.
	Backoff time.Duration
}

type kindListener struct {
	cancel context.CancelFunc
	subs   map[chan struct{}]struct{}
}

// DefaultNotifier runs one listener goroutine per subscribed kind.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu    sync.Mutex
	kinds map[model.QueueKind]*kindListener
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		kinds:      make(map[model.QueueKind]*kindListener),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = 30 * time.Second
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe returns a buffered wakeup channel for kind and an idempotent unsubscribe func.
func (n *DefaultNotifier) Subscribe(kind model.QueueKind) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	l := n.kinds[kind]
	if l == nil {
		ctx, cancel := context.WithCancel(context.Background())
		l = &kindListener{cancel: cancel, subs: make(map[chan struct{}]struct{})}
		n.kinds[kind] = l
		go n.listen(ctx, kind)
	}

	ch := make(chan struct{}, 1)
	l.subs[ch] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() { n.unsubscribe(kind, ch) })
	}, ch
}

func (n *DefaultNotifier) unsubscribe(kind model.QueueKind, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	l := n.kinds[kind]
	if l == nil {
		return
	}
	if _, ok := l.subs[ch]; !ok {
		return
	}
	delete(l.subs, ch)
	drainAndClose(ch)
	if len(l.subs) == 0 {
		l.cancel()
		delete(n.kinds, kind)
	}
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for kind, l := range n.kinds {
		l.cancel()
		for ch := range l.subs {
			drainAndClose(ch)
		}
		delete(n.kinds, kind)
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, kind model.QueueKind) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, kind)
		cancel()

		// Wake on timeout as well so delayed retries become visible.
		n.broadcast(kind)

		if err == nil || ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.backoff):
		}
	}
}

func (n *DefaultNotifier) broadcast(kind model.QueueKind) {
	n.mu.Lock()
	defer n.mu.Unlock()

	l := n.kinds[kind]
	if l == nil {
		return
	}
	for ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose empties the buffer before closing so receivers observe the close immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
