package mq

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	// pending holds fetched offsets in fetch order.
	pending []int64
	done    map[int64]kafka.Message
}

// offsetTracker lets concurrent handlers finish in any order while commits
// only ever advance to the highest offset below which every message is done.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionOffsets)}
}

// begin records a fetched message. Calls for one partition must follow fetch order.
func (t *offsetTracker) begin(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := partitionKey{msg.Topic, msg.Partition}
	p := t.partitions[key]
	if p == nil {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.partitions[key] = p
	}
	p.pending = append(p.pending, msg.Offset)
}

// done marks msg finished and returns the message to commit, if the
// contiguous done prefix of its partition moved.
func (t *offsetTracker) done(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partitions[partitionKey{msg.Topic, msg.Partition}]
	if p == nil {
		return msg, true
	}
	p.done[msg.Offset] = msg

	var commit kafka.Message
	advanced := false
	for len(p.pending) > 0 {
		m, ok := p.done[p.pending[0]]
		if !ok {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		commit, advanced = m, true
	}
	if len(p.pending) == 0 {
		delete(t.partitions, partitionKey{msg.Topic, msg.Partition})
	}
	return commit, advanced
}
