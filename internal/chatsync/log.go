package chatsync

import (
	"reflect"
	"sort"

	"chat-sync/internal/models"
)

type mergeStats struct {
	Inserted int
	Updated  int
	Skipped  int
}

func (s mergeStats) changed() bool {
	return s.Inserted > 0 || s.Updated > 0
}

// messageLog is a thread's message set keyed by item id, kept newest first.
// It is not safe for concurrent use; Thread guards it with its mutex.
type messageLog struct {
	entries []*models.Message
	index   map[string]*models.Message
}

func newMessageLog(seed []models.Message) *messageLog {
	l := &messageLog{index: make(map[string]*models.Message, len(seed))}
	l.mergeNew(seed)
	return l
}

// mergeNew inserts items whose id is unknown and skips the rest.
func (l *messageLog) mergeNew(items []models.Message) mergeStats {
	var stats mergeStats
	for _, item := range items {
		if _, ok := l.index[item.ItemID]; ok {
			stats.Skipped++
			continue
		}
		l.insert(item)
		stats.Inserted++
	}
	if stats.Inserted > 0 {
		l.sort()
	}
	return stats
}

// mergeUpdates inserts unknown items and replaces known ones whose value differs.
func (l *messageLog) mergeUpdates(items []models.Message) mergeStats {
	var stats mergeStats
	resort := false
	for _, item := range items {
		existing, ok := l.index[item.ItemID]
		if !ok {
			l.insert(item)
			stats.Inserted++
			resort = true
			continue
		}
		if reflect.DeepEqual(*existing, item) {
			stats.Skipped++
			continue
		}
		if existing.Timestamp != item.Timestamp {
			resort = true
		}
		*existing = item
		stats.Updated++
	}
	if resort {
		l.sort()
	}
	return stats
}

func (l *messageLog) insert(item models.Message) {
	m := item
	l.entries = append(l.entries, &m)
	l.index[m.ItemID] = &m
}

// prepend puts a provisional entry at the head without resorting.
func (l *messageLog) prepend(item models.Message) {
	m := item
	l.entries = append([]*models.Message{&m}, l.entries...)
	l.index[m.ItemID] = &m
}

// confirm swaps a provisional id for the server id on the same entry. When the
// server copy already arrived through a poll, the provisional entry is dropped.
func (l *messageLog) confirm(tempID, itemID string) {
	entry, ok := l.index[tempID]
	if !ok {
		return
	}
	if _, exists := l.index[itemID]; exists {
		l.remove(tempID)
		return
	}
	delete(l.index, tempID)
	entry.ItemID = itemID
	entry.Provisional = false
	l.index[itemID] = entry
}

func (l *messageLog) remove(itemID string) bool {
	entry, ok := l.index[itemID]
	if !ok {
		return false
	}
	delete(l.index, itemID)
	for i, e := range l.entries {
		if e == entry {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	return true
}

// sort orders entries newest first; ties keep the entry already present first.
func (l *messageLog) sort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].Timestamp > l.entries[j].Timestamp
	})
}

func (l *messageLog) size() int { return len(l.entries) }

func (l *messageLog) has(itemID string) bool {
	_, ok := l.index[itemID]
	return ok
}

// newestServerTimestamp ignores provisional entries, whose clock is local.
func (l *messageLog) newestServerTimestamp() int64 {
	var newest int64
	for _, e := range l.entries {
		if !e.Provisional && e.Timestamp > newest {
			newest = e.Timestamp
		}
	}
	return newest
}

func (l *messageLog) snapshot() []models.Message {
	out := make([]models.Message, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}
