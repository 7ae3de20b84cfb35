package batching

import (
	"context"
	"fmt"
	"testing"
	"time"

	"asahi/internal/domain"
)

func queuedReq(id, group string) *QueuedRequest {
	now := time.Now().UTC()
	return &QueuedRequest{
		RequestID:  id,
		Prompt:     "prompt " + id,
		Model:      "model-x",
		BatchGroup: group,
		EnqueuedAt: now,
		Deadline:   now.Add(time.Second),
		Completion: NewCompletion(),
	}
}

func TestQueueEnqueue(t *testing.T) {
	q := NewQueue()

	if err := q.Enqueue(queuedReq("r1", "faq:m")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := q.Enqueue(queuedReq("r1", "faq:m"))
		if domain.Kind(err) != domain.ErrBatching {
			t.Errorf("expected batching error, got %v", err)
		}
	})

	if q.Size("faq:m") != 1 {
		t.Errorf("size = %d, want 1", q.Size("faq:m"))
	}
}

func TestQueueGetBatch(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(queuedReq(fmt.Sprintf("r%d", i), "g"))
	}

	t.Run("pops oldest in order", func(t *testing.T) {
		batch := q.GetBatch("g", 3)
		if len(batch) != 3 {
			t.Fatalf("batch size = %d, want 3", len(batch))
		}
		for i, req := range batch {
			if want := fmt.Sprintf("r%d", i); req.RequestID != want {
				t.Errorf("batch[%d] = %s, want %s", i, req.RequestID, want)
			}
		}
		if q.Size("g") != 2 {
			t.Errorf("remaining = %d, want 2", q.Size("g"))
		}
	})

	t.Run("empty group removed after drain", func(t *testing.T) {
		q.GetBatch("g", 10)
		if groups := q.AllGroups(); len(groups) != 0 {
			t.Errorf("groups = %v, want none", groups)
		}
	})

	t.Run("popped ids can re-enqueue", func(t *testing.T) {
		if err := q.Enqueue(queuedReq("r0", "g")); err != nil {
			t.Errorf("popped id should be reusable: %v", err)
		}
	})
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Enqueue(queuedReq("a", "g"))
	q.Enqueue(queuedReq("b", "g"))

	if !q.Remove("a") {
		t.Error("Remove should find the request")
	}
	if q.Remove("a") {
		t.Error("second Remove should find nothing")
	}
	if q.Remove("never-queued") {
		t.Error("unknown id should not remove")
	}
	if q.Size("g") != 1 {
		t.Errorf("size = %d, want 1", q.Size("g"))
	}

	batch := q.GetBatch("g", 10)
	if len(batch) != 1 || batch[0].RequestID != "b" {
		t.Errorf("remaining batch = %v", batch)
	}
}

func TestQueueDeadlines(t *testing.T) {
	q := NewQueue()

	fresh := queuedReq("fresh", "g")
	q.Enqueue(fresh)
	if q.HasExpired("g") {
		t.Error("fresh request should not be expired")
	}

	stale := queuedReq("stale", "g")
	stale.Deadline = time.Now().UTC().Add(-time.Millisecond)
	q.Enqueue(stale)
	if !q.HasExpired("g") {
		t.Error("group with a past-deadline request should report expired")
	}
}

func TestQueueOldestAgeMs(t *testing.T) {
	q := NewQueue()
	if q.OldestAgeMs("empty") != 0 {
		t.Error("empty group age should be 0")
	}

	old := queuedReq("old", "g")
	old.EnqueuedAt = time.Now().UTC().Add(-100 * time.Millisecond)
	q.Enqueue(old)
	q.Enqueue(queuedReq("new", "g"))

	if age := q.OldestAgeMs("g"); age < 90 {
		t.Errorf("oldest age = %dms, want >= 90", age)
	}
}

func TestQueueSizeAndPeek(t *testing.T) {
	q := NewQueue()
	q.Enqueue(queuedReq("a", "g1"))
	q.Enqueue(queuedReq("b", "g1"))
	q.Enqueue(queuedReq("c", "g2"))

	if q.Size("") != 3 {
		t.Errorf("total size = %d, want 3", q.Size(""))
	}
	if q.Size("g1") != 2 {
		t.Errorf("g1 size = %d, want 2", q.Size("g1"))
	}

	peeked := q.Peek("g1", 1)
	if len(peeked) != 1 || peeked[0].RequestID != "a" {
		t.Errorf("peek = %v", peeked)
	}
	if q.Size("g1") != 2 {
		t.Error("peek must not remove requests")
	}

	all := q.Peek("g1", 0)
	if len(all) != 2 {
		t.Errorf("peek all = %d, want 2", len(all))
	}
}

func TestCompletionSingleUse(t *testing.T) {
	c := NewCompletion()
	c.Resolve("first", nil)
	c.Resolve("second", nil) // no-op

	got, err := c.Wait(context.Background())
	if err != nil || got != "first" {
		t.Errorf("Wait = (%q, %v), want (first, nil)", got, err)
	}
}
