package chatsync

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chat-sync/internal/backend"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// InboxSnapshot is an immutable view of the conversation list.
type InboxSnapshot struct {
	Version       uint64
	Conversations []models.Conversation
	Directory     *Directory
}

// Inbox keeps the deduplicated conversation list in sync with the backend
// while the list view is active.
type Inbox struct {
	api      backend.API
	interval time.Duration
	group    singleflight.Group

	mu        sync.Mutex
	convs     []models.Conversation
	keys      map[string]string
	seen      map[string]string
	dir       *Directory
	version   uint64
	gen       uint64
	running   bool
	holders   int
	engine    *cron.Cron
	listeners []func(InboxSnapshot)
}

// NewInbox builds an Inbox polling every interval once started.
func NewInbox(api backend.API, interval time.Duration) *Inbox {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Inbox{
		api:      api,
		interval: interval,
		keys:     make(map[string]string),
		seen:     make(map[string]string),
		dir:      newDirectory(0, nil),
	}
}

// Subscribe registers fn for every material change of the list.
func (i *Inbox) Subscribe(fn func(InboxSnapshot)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

// Start fetches immediately and then on every interval tick. Calling Start
// on a running inbox does nothing.
func (i *Inbox) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.startLocked()
}

// Stop cancels the schedule; fetches still in flight are discarded.
func (i *Inbox) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopLocked()
}

// Acquire registers a live view and starts polling for the first one.
func (i *Inbox) Acquire() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.holders++
	if i.holders == 1 {
		i.startLocked()
	}
}

// Release drops a live view and stops polling once none is left.
func (i *Inbox) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.holders == 0 {
		return
	}
	i.holders--
	if i.holders == 0 {
		i.stopLocked()
	}
}

func (i *Inbox) startLocked() {
	if i.running {
		return
	}
	i.running = true
	i.gen++
	gen := i.gen
	engine := cron.New()
	engine.Schedule(cron.Every(i.interval), cron.FuncJob(func() { i.poll(gen) }))
	engine.Start()
	i.engine = engine

	go i.poll(gen)
}

func (i *Inbox) stopLocked() {
	if !i.running {
		return
	}
	i.running = false
	i.gen++
	i.engine.Stop()
	i.engine = nil
}

func (i *Inbox) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// poll runs one scheduled fetch for the start generation gen.
func (i *Inbox) poll(gen uint64) {
	if err := i.refresh(context.Background(), gen); err != nil {
		logger.Warn("inbox poll failed", zap.Error(err))
	}
}

// RefreshNow fetches out of band without touching the schedule. Concurrent
// calls share one backend request; cancelling ctx abandons the wait but not
// the shared fetch.
func (i *Inbox) RefreshNow(ctx context.Context) error {
	return i.refresh(ctx, i.generation())
}

func (i *Inbox) refresh(ctx context.Context, gen uint64) error {
	if i.generation() != gen {
		return nil
	}
	key := "inbox:" + strconv.FormatUint(gen, 10)
	ch := i.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.interval)
		defer cancel()
		if i.generation() != gen {
			return nil, nil
		}
		convs, err := i.api.ListConversations(fetchCtx)
		observability.IncPoll("inbox", err)
		if err != nil {
			return nil, errors.Wrap(err, "list conversations")
		}
		i.apply(convs, gen, true)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyServerSnapshot replaces the stored list when at least one merge key
// changed and reports whether it did.
func (i *Inbox) ApplyServerSnapshot(list []models.Conversation) bool {
	return i.apply(list, 0, false)
}

func (i *Inbox) generation() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gen
}

func (i *Inbox) apply(list []models.Conversation, gen uint64, guarded bool) bool {
	list = dedupe(list)

	i.mu.Lock()
	if guarded && gen != i.gen {
		i.mu.Unlock()
		return false
	}
	if !i.changedLocked(list) {
		i.mu.Unlock()
		return false
	}

	prev := make(map[string]models.Conversation, len(i.convs))
	for _, c := range i.convs {
		prev[c.ThreadID] = c
	}

	dir := newDirectory(i.version+1, list)
	out := make([]models.Conversation, 0, len(list))
	keys := make(map[string]string, len(list))
	for _, c := range list {
		c.ReadState = i.readStateLocked(c, prev)
		if c.LastItem != nil {
			last := *c.LastItem
			last.Text = models.Describe(last.SenderID, last.IsSentByViewer, last.Payload, dir)
			c.LastItem = &last
		}
		out = append(out, c)
		keys[c.ThreadID] = c.MergeKey()
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].LastActivity() > out[b].LastActivity()
	})
	for id := range i.seen {
		if _, ok := keys[id]; !ok {
			delete(i.seen, id)
		}
	}

	i.convs = out
	i.keys = keys
	i.dir = dir
	i.version++
	snap, listeners := i.snapshotLocked()
	i.mu.Unlock()

	observability.IncInboxRebuild()
	notifyInbox(listeners, snap)
	return true
}

func (i *Inbox) changedLocked(list []models.Conversation) bool {
	if len(list) != len(i.keys) {
		return true
	}
	for _, c := range list {
		key, ok := i.keys[c.ThreadID]
		if !ok || key != c.MergeKey() {
			return true
		}
	}
	return false
}

// readStateLocked keeps the local state of unchanged threads and flips threads
// whose newest item is a new inbound one to UNREAD.
func (i *Inbox) readStateLocked(c models.Conversation, prev map[string]models.Conversation) models.ReadState {
	old, known := prev[c.ThreadID]
	switch {
	case known && old.MergeKey() == c.MergeKey():
		return old.ReadState
	case !known:
		if c.ReadState == "" {
			return models.ReadStateRead
		}
		return c.ReadState
	case c.LastItem == nil || c.LastItem.IsSentByViewer:
		return models.ReadStateRead
	case i.seen[c.ThreadID] == c.LastItem.ItemID:
		return models.ReadStateRead
	default:
		return models.ReadStateUnread
	}
}

// MarkThreadSeen flips the thread to READ locally, then tells the backend.
// Backend failures are logged and never rolled back.
func (i *Inbox) MarkThreadSeen(ctx context.Context, threadID, itemID string) {
	i.mu.Lock()
	idx := i.indexLocked(threadID)
	if itemID == "" && idx >= 0 && i.convs[idx].LastItem != nil {
		itemID = i.convs[idx].LastItem.ItemID
	}
	if itemID != "" {
		i.seen[threadID] = itemID
	}
	var (
		snap      InboxSnapshot
		listeners []func(InboxSnapshot)
	)
	if idx >= 0 && i.convs[idx].ReadState != models.ReadStateRead {
		out := make([]models.Conversation, len(i.convs))
		copy(out, i.convs)
		out[idx].ReadState = models.ReadStateRead
		i.convs = out
		i.version++
		snap, listeners = i.snapshotLocked()
	}
	i.mu.Unlock()
	notifyInbox(listeners, snap)

	if itemID == "" {
		return
	}
	if err := i.api.MarkSeen(ctx, threadID, itemID); err != nil {
		observability.IncSeenFailure()
		logger.Warn("mark seen failed", zap.String("thread_id", threadID), zap.String("item_id", itemID), zap.Error(err))
	}
}

// DeleteThread removes the thread remotely and, only on success, locally.
func (i *Inbox) DeleteThread(ctx context.Context, threadID string) error {
	if err := i.api.DeleteThread(ctx, threadID); err != nil {
		return errors.Wrapf(err, "delete thread %s", threadID)
	}

	i.mu.Lock()
	idx := i.indexLocked(threadID)
	if idx < 0 {
		i.mu.Unlock()
		return nil
	}
	out := make([]models.Conversation, 0, len(i.convs)-1)
	out = append(out, i.convs[:idx]...)
	out = append(out, i.convs[idx+1:]...)
	i.convs = out
	delete(i.keys, threadID)
	delete(i.seen, threadID)
	i.version++
	i.dir = newDirectory(i.version, out)
	snap, listeners := i.snapshotLocked()
	i.mu.Unlock()

	notifyInbox(listeners, snap)
	return nil
}

// Search filters conversations whose title contains query, ignoring case.
func (i *Inbox) Search(query string) []models.Conversation {
	i.mu.Lock()
	convs := i.convs
	i.mu.Unlock()

	needle := strings.ToLower(query)
	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.Title), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Conversations returns the list ordered by most recent activity.
func (i *Inbox) Conversations() []models.Conversation {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]models.Conversation, len(i.convs))
	copy(out, i.convs)
	return out
}

func (i *Inbox) Conversation(threadID string) (models.Conversation, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	idx := i.indexLocked(threadID)
	if idx < 0 {
		return models.Conversation{}, false
	}
	return i.convs[idx], true
}

// Snapshot returns the current list together with its version.
func (i *Inbox) Snapshot() InboxSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	snap, _ := i.snapshotLocked()
	return snap
}

func (i *Inbox) Directory() *Directory {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dir
}

func (i *Inbox) Version() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.version
}

func (i *Inbox) indexLocked(threadID string) int {
	for idx, c := range i.convs {
		if c.ThreadID == threadID {
			return idx
		}
	}
	return -1
}

func (i *Inbox) snapshotLocked() (InboxSnapshot, []func(InboxSnapshot)) {
	snap := InboxSnapshot{Version: i.version, Conversations: i.convs, Directory: i.dir}
	listeners := make([]func(InboxSnapshot), len(i.listeners))
	copy(listeners, i.listeners)
	return snap, listeners
}

func notifyInbox(listeners []func(InboxSnapshot), snap InboxSnapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

func dedupe(list []models.Conversation) []models.Conversation {
	seen := make(map[string]struct{}, len(list))
	out := make([]models.Conversation, 0, len(list))
	for _, c := range list {
		if _, ok := seen[c.ThreadID]; ok {
			continue
		}
		seen[c.ThreadID] = struct{}{}
		out = append(out, c)
	}
	return out
}
