package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{30 * time.Second, 60 * time.Second, 120 * time.Second}

	assert.Equal(t, 30*time.Second, b.Delay(0))
	assert.Equal(t, 60*time.Second, b.Delay(1))
	assert.Equal(t, 120*time.Second, b.Delay(2))
	assert.Equal(t, 120*time.Second, b.Delay(7), "clamped at the last step")
	assert.Equal(t, 30*time.Second, Backoff(nil).Delay(0))
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, b.Exhausted(0, 3, now, now.Add(time.Hour)))
	assert.True(t, b.Exhausted(3, 3, now, now.Add(time.Hour)), "retry budget spent")
	assert.True(t, b.Exhausted(1, 3, now, now.Add(30*time.Second)), "next attempt would miss the deadline")
	assert.False(t, b.Exhausted(1, 3, now, time.Time{}))
}

func TestKeysAreDeterministic(t *testing.T) {
	assert.Equal(t, ItemKey("abc", 0), ItemKey("abc", 0))
	assert.NotEqual(t, ItemKey("abc", 0), ItemKey("abc", 1))
	assert.Equal(t, "media-detect:m1", DetectKey("m1"))
	assert.Equal(t, "import-discover:i1", DiscoverKey("i1"))
}

func TestTaskOptions(t *testing.T) {
	assert.Empty(t, TaskOptions(Options{}))
	opts := TaskOptions(Options{
		Queue:    QueueImportItems,
		Key:      "k",
		Delay:    time.Second,
		MaxRetry: 3,
		Timeout:  time.Minute,
		Deadline: time.Now().Add(time.Hour),
	})
	assert.Len(t, opts, 6)
}
