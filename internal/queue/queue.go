// Package queue implements the ordered, deduplicated holding area for pending
// playlist downloads, plus terminal-state bookkeeping for completed and failed
// items.
package queue

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	yd "github.com/Firdaussi/youtube-downloader"
	"github.com/Firdaussi/youtube-downloader/generic"
)

// Counts is a point-in-time snapshot of the store's sizes.
type Counts struct {
	Pending   int
	Completed int
	Failed    int
}

type queuedItem struct {
	yd.QueueItem
	seq uint64 // insertion order, tie-break after priority and enqueue time
}

// DownloadQueue holds pending items in priority+FIFO order and records
// terminal outcomes. A playlist id appears at most once in the pending queue;
// completion supersedes any earlier failure for the same id. All operations
// are total: an empty queue is a valid "nothing to do" signal, not an error.
//
// A single mutex guards every collection; the zero value is not usable, use
// NewDownloadQueue.
type DownloadQueue struct {
	mu        sync.Mutex
	items     []queuedItem
	queued    *generic.Set[string]
	completed map[string]yd.DownloadResult
	failed    map[string]yd.DownloadResult
	nextSeq   uint64
	log       *zap.SugaredLogger
}

func NewDownloadQueue() *DownloadQueue {
	return &DownloadQueue{
		queued:    generic.NewSet[string](),
		completed: make(map[string]yd.DownloadResult),
		failed:    make(map[string]yd.DownloadResult),
		log:       zap.S().Named("queue"),
	}
}

// Enqueue adds a playlist to the pending queue. Re-adding an id that is
// already queued is a no-op.
func (q *DownloadQueue) Enqueue(playlistID string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.queued.Add(playlistID) {
		q.log.Debugw("already queued, ignoring", "playlist_id", playlistID)
		return
	}
	q.items = append(q.items, queuedItem{
		QueueItem: yd.QueueItem{
			PlaylistID: playlistID,
			Priority:   priority,
			EnqueuedAt: time.Now(),
		},
		seq: q.nextSeq,
	})
	q.nextSeq++
	q.sortLocked()
	q.log.Debugw("enqueued", "playlist_id", playlistID, "priority", priority)
}

// DequeueNext pops the highest-priority, earliest-enqueued item, or returns
// ok=false when the queue is empty.
func (q *DownloadQueue) DequeueNext() (item yd.QueueItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return yd.QueueItem{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	q.queued.Remove(head.PlaylistID)
	q.log.Debugw("dequeued", "playlist_id", head.PlaylistID)
	return head.QueueItem, true
}

// MarkCompleted records a successful download. Idempotent: re-marking an
// already-completed id changes nothing. Success supersedes failure, so the id
// is removed from the failed set if present.
func (q *DownloadQueue) MarkCompleted(playlistID string, info map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, done := q.completed[playlistID]; done {
		return
	}
	q.completed[playlistID] = yd.DownloadResult{
		PlaylistID: playlistID,
		Status:     yd.DownloadStatusCompleted,
		Info:       info,
	}
	delete(q.failed, playlistID)
	q.log.Debugw("marked completed", "playlist_id", playlistID)
}

// MarkFailed records a failed download. A repeat failure for the same id
// updates the stored error message in place rather than appending a duplicate
// record; only the latest reason is kept.
func (q *DownloadQueue) MarkFailed(playlistID string, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if prev, ok := q.failed[playlistID]; ok {
		prev.Error = errMsg
		q.failed[playlistID] = prev
		q.log.Debugw("updated failure", "playlist_id", playlistID)
		return
	}
	q.failed[playlistID] = yd.DownloadResult{
		PlaylistID: playlistID,
		Status:     yd.DownloadStatusFailed,
		Info:       map[string]string{},
		Error:      errMsg,
	}
	q.log.Debugw("marked failed", "playlist_id", playlistID)
}

// IsQueued reports whether the id is currently in the pending queue.
func (q *DownloadQueue) IsQueued(playlistID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued.Contains(playlistID)
}

// IsDuplicate reports whether the id has already completed.
func (q *DownloadQueue) IsDuplicate(playlistID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, done := q.completed[playlistID]
	return done
}

// FailedIDs returns the ids currently recorded as failed.
func (q *DownloadQueue) FailedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.failed))
	for id := range q.failed {
		ids = append(ids, id)
	}
	return ids
}

// FailedResult returns the recorded failure for an id, if any.
func (q *DownloadQueue) FailedResult(playlistID string) (yd.DownloadResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.failed[playlistID]
	return r, ok
}

// CompletedResult returns the recorded completion for an id, if any.
func (q *DownloadQueue) CompletedResult(playlistID string) (yd.DownloadResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.completed[playlistID]
	return r, ok
}

// Counts returns a read-only point-in-time snapshot. Callers must not assume
// atomicity across multiple snapshots.
func (q *DownloadQueue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Counts{
		Pending:   len(q.items),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
}

// ClearFailed discards all failure records.
func (q *DownloadQueue) ClearFailed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = make(map[string]yd.DownloadResult)
}

// ClearCompleted discards all completion records.
func (q *DownloadQueue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = make(map[string]yd.DownloadResult)
}

// ClearAll resets the entire store, including the pending queue and every
// tracking set. Used on hard stop.
func (q *DownloadQueue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending, completed, failed := len(q.items), len(q.completed), len(q.failed)
	q.items = nil
	q.queued.Clear()
	q.completed = make(map[string]yd.DownloadResult)
	q.failed = make(map[string]yd.DownloadResult)
	q.log.Debugw("reset", "pending", pending, "completed", completed, "failed", failed)
}

func (q *DownloadQueue) sortLocked() {
	sort.Slice(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.seq < b.seq
	})
}
