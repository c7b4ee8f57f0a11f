package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/remote"
)

// source names the remote feed a delivery came from.
type source string

const (
	sourceConversations source = "conversations"
	sourceMessages      source = "messages"
	sourceEphemeral     source = "ephemeral"
	sourcePresence      source = "presence"
)

// delivery is one batch on its way to the apply loop. gen is zero for
// session-wide feeds and the scope generation for conversation feeds.
type delivery struct {
	src      source
	gen      int64
	convID   string
	remoteID string
	batch    remote.Batch
}

// feed is a subscription together with the goroutine pumping it.
type feed struct {
	src    source
	sub    remote.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func (f *feed) alive() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

// close unsubscribes and waits for the pump to exit.
func (f *feed) close() {
	f.cancel()
	f.sub.Close()
	<-f.done
}

// scope holds the feeds of the active conversation.
type scope struct {
	convID   string
	remoteID string
	gen      int64
	feeds    []*feed
}

func (sc *scope) alive() bool {
	if len(sc.feeds) == 0 {
		return false
	}
	for _, f := range sc.feeds {
		if !f.alive() {
			return false
		}
	}
	return true
}

func (sc *scope) close() {
	for _, f := range sc.feeds {
		f.close()
	}
}

type session struct {
	userID string
	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	deliveries chan delivery
	linked     chan string
	lost       chan source
	gen        atomic.Int64

	mu     stdsync.Mutex
	active string
	convs  *feed
	scope  *scope
}

func newSession(userID string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		userID:     userID,
		ctx:        ctx,
		cancel:     cancel,
		deliveries: make(chan delivery),
		linked:     make(chan string, 1),
		lost:       make(chan source, 1),
	}
}

func (s *session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// shutdown cancels every goroutine of the session and waits for them.
func (s *session) shutdown() {
	s.cancel()

	s.mu.Lock()
	convs, sc := s.convs, s.scope
	s.convs, s.scope = nil, nil
	s.mu.Unlock()

	if convs != nil {
		convs.close()
	}
	if sc != nil {
		sc.close()
	}
	s.wg.Wait()
}

func (s *session) startFeed(src source, gen int64, convID, remoteID string, sub remote.Subscription) *feed {
	ctx, cancel := context.WithCancel(s.ctx)
	f := &feed{src: src, sub: sub, cancel: cancel, done: make(chan struct{})}
	d := delivery{src: src, gen: gen, convID: convID, remoteID: remoteID}
	s.spawn(func() { s.pump(ctx, f, d) })
	return f
}

// pump forwards batches to the apply loop until the feed is closed.
func (s *session) pump(ctx context.Context, f *feed, d delivery) {
	defer close(f.done)
	for {
		select {
		case b, ok := <-f.sub.C():
			if !ok {
				if ctx.Err() == nil {
					select {
					case s.lost <- f.src:
					default:
					}
				}
				return
			}
			d.batch = b
			select {
			case s.deliveries <- d:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) activeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *session) setActive(convID string) {
	s.mu.Lock()
	s.active = convID
	s.mu.Unlock()
}

func (s *session) setConversations(f *feed) {
	s.mu.Lock()
	old := s.convs
	s.convs = f
	s.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (s *session) conversationsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs != nil && s.convs.alive()
}

func (s *session) setScope(sc *scope) {
	s.mu.Lock()
	s.scope = sc
	s.mu.Unlock()
}

func (s *session) scopeAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope != nil && s.scope.alive()
}

// detach closes the active conversation's feeds and invalidates anything
// they already queued.
func (s *session) detach() {
	s.mu.Lock()
	sc := s.scope
	s.scope = nil
	s.mu.Unlock()
	s.gen.Add(1)
	if sc != nil {
		sc.close()
	}
}

func (s *session) nextGeneration() int64 {
	return s.gen.Add(1)
}

func (s *session) current(d delivery) bool {
	return d.gen == 0 || d.gen == s.gen.Load()
}

// notifyLinked wakes the watcher when a conversation gained its remote id.
func (s *session) notifyLinked(convID string) {
	select {
	case s.linked <- convID:
	default:
	}
}
