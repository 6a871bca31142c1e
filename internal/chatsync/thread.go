package chatsync

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chat-sync/internal/backend"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

var (
	// ErrThreadClosed is returned by operations on a stopped thread.
	ErrThreadClosed = errors.New("thread synchronizer closed")
	// ErrSendFailed marks a send that was rolled back.
	ErrSendFailed = errors.New("send failed")
)

const tempIDPrefix = "temp_"

// SeenMarker receives mark-seen requests for inbound items.
type SeenMarker interface {
	MarkThreadSeen(ctx context.Context, threadID, itemID string)
}

// ThreadOptions tunes a Thread. Zero values fall back to the defaults below.
type ThreadOptions struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// Seen routes mark-seen through the inbox; when nil the backend is called directly.
	Seen      SeenMarker
	Now       func() time.Time
	NewTempID func() string
	Jitter    func(lo, hi time.Duration) time.Duration
}

func (o ThreadOptions) withDefaults() ThreadOptions {
	if o.MinInterval <= 0 {
		o.MinInterval = 5 * time.Second
	}
	if o.MaxInterval < o.MinInterval {
		o.MaxInterval = o.MinInterval * 2
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewTempID == nil {
		o.NewTempID = func() string { return tempIDPrefix + uuid.NewString() }
	}
	if o.Jitter == nil {
		o.Jitter = jitter
	}
	return o
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// ThreadState reports the transient activity of a Thread.
type ThreadState struct {
	LoadingOlder       bool   `json:"loading_older"`
	Polling            bool   `json:"polling"`
	Sending            bool   `json:"sending"`
	MoreAvailable      bool   `json:"more_available"`
	Cursor             string `json:"cursor,omitempty"`
	LastKnownTimestamp int64  `json:"last_known_timestamp"`
}

// Thread keeps the message log of one conversation consistent across
// history pages, live polls and optimistic sends.
type Thread struct {
	id   string
	api  backend.API
	opts ThreadOptions

	mu                 sync.Mutex
	log                *messageLog
	cursor             string
	moreAvailable      bool
	lastKnownTimestamp int64
	loadingOlder       bool
	polling            int
	sending            int
	version            uint64
	started            bool
	closed             bool
	cancel             context.CancelFunc
	done               chan struct{}
	listeners          []func(models.ThreadEvent)
}

// NewThread seeds a synchronizer from the snapshot handed over by the inbox.
func NewThread(api backend.API, threadID string, seed []models.Message, opts ThreadOptions) *Thread {
	t := &Thread{
		id:            threadID,
		api:           api,
		opts:          opts.withDefaults(),
		log:           newMessageLog(seed),
		moreAvailable: true,
	}
	t.lastKnownTimestamp = t.log.newestServerTimestamp()
	return t
}

func (t *Thread) ID() string { return t.id }

// Subscribe registers fn for every change of the message log.
func (t *Thread) Subscribe(fn func(models.ThreadEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Messages returns the merged log, newest first.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.log.snapshot()
}

// Version increases on every change of the message log.
func (t *Thread) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Snapshot returns the current log as a messages event carrying its version.
func (t *Thread) Snapshot() models.ThreadEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.ThreadEvent{Type: "messages", ThreadID: t.id, Version: t.version, Messages: t.log.snapshot()}
}

func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThreadState{
		LoadingOlder:       t.loadingOlder,
		Polling:            t.polling > 0,
		Sending:            t.sending > 0,
		MoreAvailable:      t.moreAvailable,
		Cursor:             t.cursor,
		LastKnownTimestamp: t.lastKnownTimestamp,
	}
}

// Start polls once immediately and then on a jittered interval until Stop.
func (t *Thread) Start() {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.started = true
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.run(ctx)
}

// Stop cancels the poll timer and discards every result still in flight.
// A stopped thread cannot be restarted.
func (t *Thread) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.listeners = nil
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Thread) run(ctx context.Context) {
	defer close(t.done)

	failed := t.pollOnce(ctx)
	for {
		wait := t.opts.Jitter(t.opts.MinInterval, t.opts.MaxInterval)
		if failed {
			wait += t.opts.Jitter(t.opts.MinInterval, t.opts.MaxInterval)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		failed = t.pollOnce(ctx)
	}
}

// pollOnce swallows the poll error and reports whether the loop should back off.
func (t *Thread) pollOnce(ctx context.Context) bool {
	err := t.PollForNewMessages(ctx)
	if err == nil || errors.Is(err, ErrThreadClosed) || ctx.Err() != nil {
		return false
	}
	logger.Warn("thread poll failed", zap.String("thread_id", t.id), zap.Error(err))
	return true
}

// LoadOlderMessages fetches the next history page. It is a no-op while a
// load is in flight or once the history is exhausted.
func (t *Thread) LoadOlderMessages(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	if t.loadingOlder || !t.moreAvailable {
		t.mu.Unlock()
		return nil
	}
	t.loadingOlder = true
	cursor := t.cursor
	t.mu.Unlock()

	page, err := t.api.LoadOlderMessages(ctx, t.id, cursor)
	observability.IncPoll("older", err)

	t.mu.Lock()
	t.loadingOlder = false
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	if err != nil {
		t.mu.Unlock()
		return errors.Wrap(err, "load older messages")
	}
	if len(page.Messages) == 0 {
		t.moreAvailable = false
		t.cursor = ""
		t.mu.Unlock()
		return nil
	}

	stats := t.log.mergeNew(page.Messages)
	t.cursor = page.Cursor
	if !page.MoreAvailable {
		t.moreAvailable = false
	}
	// lastKnownTimestamp only moves on polls; history is older by construction.
	ev, listeners := t.changedLocked(stats.changed())
	t.mu.Unlock()

	observability.AddMerged("older", stats.Inserted, stats.Updated, stats.Skipped)
	notify(listeners, ev)
	return nil
}

// PollForNewMessages merges items newer than the last known timestamp and
// marks the newest inbound one as seen.
func (t *Thread) PollForNewMessages(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	since := t.lastKnownTimestamp
	t.polling++
	t.mu.Unlock()

	items, err := t.api.NewMessagesSince(ctx, t.id, since)
	observability.IncPoll("thread", err)

	t.mu.Lock()
	t.polling--
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	if err != nil {
		t.mu.Unlock()
		return errors.Wrap(err, "poll new messages")
	}

	stats := t.log.mergeUpdates(items)
	var newestInbound *models.Message
	for i := range items {
		if items[i].Timestamp > t.lastKnownTimestamp {
			t.lastKnownTimestamp = items[i].Timestamp
		}
		if !items[i].IsSentByViewer && (newestInbound == nil || items[i].Timestamp > newestInbound.Timestamp) {
			newestInbound = &items[i]
		}
	}
	ev, listeners := t.changedLocked(stats.changed())
	t.mu.Unlock()

	observability.AddMerged("poll", stats.Inserted, stats.Updated, stats.Skipped)
	notify(listeners, ev)

	if newestInbound != nil {
		t.markSeen(ctx, newestInbound.ItemID)
	}
	return nil
}

// SendMessage applies text optimistically, then confirms or rolls it back.
// Blank text is ignored. It returns the server-assigned item id.
func (t *Thread) SendMessage(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrThreadClosed
	}
	tempID := t.opts.NewTempID()
	msg := models.NewMessage(tempID, t.id, "", t.opts.Now().UnixMicro(), true, models.TextPayload{Text: text})
	msg.Provisional = true
	t.log.prepend(msg)
	t.sending++
	ev, listeners := t.changedLocked(true)
	t.mu.Unlock()
	notify(listeners, ev)

	itemID, err := t.api.SendMessage(ctx, t.id, text)
	observability.IncSend(err)

	t.mu.Lock()
	t.sending--
	if t.closed {
		t.mu.Unlock()
		if err != nil {
			return "", &sendError{cause: err}
		}
		return itemID, nil
	}
	if err != nil {
		t.log.remove(tempID)
		ev, listeners = t.changedLocked(true)
		t.mu.Unlock()
		notify(listeners, ev)
		notify(listeners, models.ThreadEvent{Type: "send_failed", ThreadID: t.id, Version: ev.Version, Error: err.Error()})
		return "", &sendError{cause: err}
	}
	t.log.confirm(tempID, itemID)
	ev, listeners = t.changedLocked(true)
	t.mu.Unlock()
	notify(listeners, ev)
	return itemID, nil
}

func (t *Thread) markSeen(ctx context.Context, itemID string) {
	if t.opts.Seen != nil {
		t.opts.Seen.MarkThreadSeen(ctx, t.id, itemID)
		return
	}
	if err := t.api.MarkSeen(ctx, t.id, itemID); err != nil {
		observability.IncSeenFailure()
		logger.Warn("mark seen failed", zap.String("thread_id", t.id), zap.String("item_id", itemID), zap.Error(err))
	}
}

// changedLocked bumps the version and captures the event to publish once the
// lock is released. It returns no listeners when nothing changed.
func (t *Thread) changedLocked(changed bool) (models.ThreadEvent, []func(models.ThreadEvent)) {
	if !changed {
		return models.ThreadEvent{}, nil
	}
	t.version++
	ev := models.ThreadEvent{
		Type:     "messages",
		ThreadID: t.id,
		Version:  t.version,
		Messages: t.log.snapshot(),
	}
	listeners := make([]func(models.ThreadEvent), len(t.listeners))
	copy(listeners, t.listeners)
	return ev, listeners
}

func notify(listeners []func(models.ThreadEvent), ev models.ThreadEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}

type sendError struct {
	cause error
}

func (e *sendError) Error() string { return ErrSendFailed.Error() + ": " + e.cause.Error() }

func (e *sendError) Unwrap() error { return e.cause }

func (e *sendError) Is(target error) bool { return target == ErrSendFailed }
