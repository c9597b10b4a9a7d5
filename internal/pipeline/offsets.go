package pipeline

import (
	"cmp"
	"context"
	"slices"

	"github.com/couchcryptid/me-compute/internal/domain"
)

// trackedMessage is a consumed message whose offset may not be committed
// until the event it fed has been loaded.
type trackedMessage struct {
	topic     string
	partition int
	offset    int64
	commit    func(ctx context.Context) error
	settled   bool
}

type partitionKey struct {
	topic     string
	partition int
}

// offsetTracker keeps consumed messages in arrival order per partition.
// Commits are cumulative within a partition, so only the run of settled
// messages at the head of a partition may be committed. A message still
// feeding a pending event holds back every later offset of its partition,
// which keeps a restart from skipping stations of unreleased events.
type offsetTracker struct {
	partitions map[partitionKey][]*trackedMessage
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey][]*trackedMessage)}
}

// track records a consumed message. Messages without a commit function are
// never queued; the returned handle can still be settled.
func (t *offsetTracker) track(raw domain.RawWaveform) *trackedMessage {
	m := &trackedMessage{
		topic:     raw.Topic,
		partition: raw.Partition,
		offset:    raw.Offset,
		commit:    raw.Commit,
	}
	if m.commit == nil {
		return m
	}
	key := partitionKey{topic: m.topic, partition: m.partition}
	t.partitions[key] = append(t.partitions[key], m)
	return m
}

// committable removes the settled head of every partition and returns the
// last message of each head, in partition order.
func (t *offsetTracker) committable() []*trackedMessage {
	keys := make([]partitionKey, 0, len(t.partitions))
	for k := range t.partitions {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b partitionKey) int {
		return cmp.Or(cmp.Compare(a.topic, b.topic), cmp.Compare(a.partition, b.partition))
	})

	var out []*trackedMessage
	for _, k := range keys {
		queue := t.partitions[k]
		n := 0
		for n < len(queue) && queue[n].settled {
			n++
		}
		if n == 0 {
			continue
		}
		out = append(out, queue[n-1])
		if n == len(queue) {
			delete(t.partitions, k)
			continue
		}
		t.partitions[k] = slices.Clone(queue[n:])
	}
	return out
}

// pending returns how many tracked messages are not yet committable.
func (t *offsetTracker) pending() int {
	var n int
	for _, q := range t.partitions {
		n += len(q)
	}
	return n
}
