package queue

import (
	"fmt"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestEnqueue_Deduplicates(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	q.Enqueue("PL1", 0)
	q.Enqueue("PL1", 0)
	q.Enqueue("PL1", 5)
	assert.Equal(1, q.Counts().Pending)

	item, ok := q.DequeueNext()
	assert.True(ok)
	assert.Equal("PL1", item.PlaylistID)
	assert.Equal(0, item.Priority, "re-enqueue of a queued id should be a no-op")

	_, ok = q.DequeueNext()
	assert.False(ok)

	// Once dequeued, the id may be enqueued again.
	q.Enqueue("PL1", 0)
	assert.Equal(1, q.Counts().Pending)
}

func TestDequeueNext_PriorityThenFIFO(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	q.Enqueue("low", 1)
	q.Enqueue("high", 3)
	q.Enqueue("mid", 2)

	var order []string
	for {
		item, ok := q.DequeueNext()
		if !ok {
			break
		}
		order = append(order, item.PlaylistID)
	}
	assert.Equal([]string{"high", "mid", "low"}, order)
}

func TestDequeueNext_StableWithinPriority(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	for i := 0; i < 10; i++ {
		q.Enqueue(fmt.Sprintf("PL%d", i), 0)
	}
	for i := 0; i < 10; i++ {
		item, ok := q.DequeueNext()
		assert.True(ok)
		assert.Equal(fmt.Sprintf("PL%d", i), item.PlaylistID)
	}
}

func TestMarkCompleted_IdempotentAndSupersedesFailure(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	q.MarkFailed("PL1", "network error")
	assert.Equal(1, q.Counts().Failed)

	q.MarkCompleted("PL1", map[string]string{"path": "/tmp"})
	q.MarkCompleted("PL1", map[string]string{"path": "/other"})

	counts := q.Counts()
	assert.Equal(1, counts.Completed)
	assert.Equal(0, counts.Failed, "success should remove the id from the failed set")

	r, ok := q.CompletedResult("PL1")
	assert.True(ok)
	assert.Equal("/tmp", r.Info["path"], "re-marking a completed id should be a no-op")
	assert.True(q.IsDuplicate("PL1"))
}

func TestMarkFailed_UpdatesInPlace(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	q.MarkFailed("PL1", "first error")
	q.MarkFailed("PL1", "second error")

	assert.Equal(1, q.Counts().Failed)
	r, ok := q.FailedResult("PL1")
	assert.True(ok)
	assert.Equal("second error", r.Error, "only the latest failure reason is kept")
}

func TestClearAll(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	q.Enqueue("PL1", 0)
	q.MarkCompleted("PL2", nil)
	q.MarkFailed("PL3", "boom")
	q.ClearAll()

	assert.Equal(Counts{}, q.Counts())
	assert.False(q.IsQueued("PL1"), "tracking set should be cleared too")
	q.Enqueue("PL1", 0)
	assert.Equal(1, q.Counts().Pending)
}

func TestClearFailed(t *testing.T) {
	assert := assert_.New(t)

	q := NewDownloadQueue()
	q.MarkFailed("PL1", "boom")
	q.MarkFailed("PL2", "boom")
	ids := q.FailedIDs()
	assert.Len(ids, 2)
	q.ClearFailed()
	assert.Equal(0, q.Counts().Failed)
}
