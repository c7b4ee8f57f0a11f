package remote

import "sync"

// ServerTimestamp is a field value the store replaces with its own clock
// when the write is applied.
const ServerTimestamp = "$serverTimestamp"

// Feed is a Subscription backed by an unbounded queue, so producers never
// block on slow consumers.
type Feed struct {
	out    chan Batch
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending []Batch

	once    sync.Once
	onClose func()
}

// NewFeed starts a feed. onClose runs once when the feed is closed.
func NewFeed(onClose func()) *Feed {
	f := &Feed{
		out:     make(chan Batch),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go f.run()
	return f
}

// C implements Subscription.
func (f *Feed) C() <-chan Batch {
	return f.out
}

// Push queues a batch for delivery. Pushing to a closed feed is a no-op.
func (f *Feed) Push(b Batch) {
	select {
	case <-f.done:
		return
	default:
	}
	f.mu.Lock()
	f.pending = append(f.pending, b)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Close implements Subscription.
func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.done)
		if f.onClose != nil {
			f.onClose()
		}
	})
}

// Done is closed once the feed is closed.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) run() {
	defer close(f.out)
	for {
		f.mu.Lock()
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()

		for _, b := range batch {
			select {
			case f.out <- b:
			case <-f.done:
				return
			}
		}

		select {
		case <-f.notify:
		case <-f.done:
			return
		}
	}
}
