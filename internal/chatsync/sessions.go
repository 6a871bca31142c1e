package chatsync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chat-sync/internal/backend"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// ErrThreadNotOpen is returned when no synchronizer runs for a thread.
var ErrThreadNotOpen = errors.New("thread not open")

// Sessions owns the running thread synchronizers, one per open conversation.
type Sessions struct {
	api   backend.API
	inbox *Inbox
	opts  ThreadOptions

	mu      sync.Mutex
	threads map[string]*Thread
	refs    map[string]int
	onOpen  []func(*Thread)
}

func NewSessions(api backend.API, inbox *Inbox, opts ThreadOptions) *Sessions {
	if inbox != nil && opts.Seen == nil {
		opts.Seen = inbox
	}
	return &Sessions{
		api:     api,
		inbox:   inbox,
		opts:    opts,
		threads: make(map[string]*Thread),
		refs:    make(map[string]int),
	}
}

// OnOpen registers fn to run for every newly opened thread before it starts polling.
func (s *Sessions) OnOpen(fn func(*Thread)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = append(s.onOpen, fn)
}

// Open returns the running synchronizer for threadID, creating and starting
// one seeded from the inbox when needed.
func (s *Sessions) Open(ctx context.Context, threadID string) (*Thread, error) {
	if t, ok := s.Get(threadID); ok {
		return t, nil
	}

	seed, err := s.seed(ctx, threadID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if t, ok := s.threads[threadID]; ok {
		s.mu.Unlock()
		return t, nil
	}
	t := NewThread(s.api, threadID, seed, s.opts)
	s.threads[threadID] = t
	hooks := make([]func(*Thread), len(s.onOpen))
	copy(hooks, s.onOpen)
	n := len(s.threads)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(t)
	}
	t.Start()
	observability.SetOpenThreads(n)
	logger.Info("thread opened", zap.String("thread_id", threadID), zap.Int("seed", len(seed)))
	return t, nil
}

// Acquire opens threadID like Open and holds it until the matching Release.
func (s *Sessions) Acquire(ctx context.Context, threadID string) (*Thread, error) {
	for {
		t, err := s.Open(ctx, threadID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.threads[threadID] == t {
			s.refs[threadID]++
			s.mu.Unlock()
			return t, nil
		}
		s.mu.Unlock()
	}
}

// Release drops one hold on t and closes it when the last one goes. A thread
// already closed or replaced is left alone.
func (s *Sessions) Release(t *Thread) {
	id := t.ID()
	s.mu.Lock()
	if s.threads[id] != t {
		s.mu.Unlock()
		return
	}
	if s.refs[id] > 1 {
		s.refs[id]--
		s.mu.Unlock()
		return
	}
	delete(s.refs, id)
	delete(s.threads, id)
	n := len(s.threads)
	s.mu.Unlock()

	s.stopped(t, n)
}

func (s *Sessions) stopped(t *Thread, open int) {
	t.Stop()
	observability.SetOpenThreads(open)
	logger.Info("thread closed", zap.String("thread_id", t.ID()))
}

func (s *Sessions) seed(ctx context.Context, threadID string) ([]models.Message, error) {
	if s.inbox != nil {
		if conv, ok := s.inbox.Conversation(threadID); ok && len(conv.Items) > 0 {
			return conv.Items, nil
		}
	}
	conv, err := s.api.GetConversation(ctx, threadID)
	if err != nil {
		return nil, errors.Wrapf(err, "open thread %s", threadID)
	}
	return conv.Items, nil
}

func (s *Sessions) Get(threadID string) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	return t, ok
}

// Close stops the synchronizer for threadID and forgets it.
func (s *Sessions) Close(threadID string) error {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if ok {
		delete(s.threads, threadID)
		delete(s.refs, threadID)
	}
	n := len(s.threads)
	s.mu.Unlock()

	if !ok {
		return ErrThreadNotOpen
	}
	s.stopped(t, n)
	return nil
}

func (s *Sessions) CloseAll() {
	s.mu.Lock()
	threads := s.threads
	s.threads = make(map[string]*Thread)
	s.refs = make(map[string]int)
	s.mu.Unlock()

	for _, t := range threads {
		t.Stop()
	}
	observability.SetOpenThreads(0)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}
