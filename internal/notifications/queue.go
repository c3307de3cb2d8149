package notifications

import (
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// Group collects every intent queued for one (recipient, type) pair;
// the dispatcher emits one email per group.
type Group struct {
	Recipient Recipient
	Type      store.NotificationType
	Items     []*Intent
}

// Queue buckets intents by recipient, then type, preserving first-seen
// order so runs are deterministic.
type Queue struct {
	groups map[string]*Group
	order  []string
}

func NewQueue() *Queue {
	return &Queue{groups: map[string]*Group{}}
}

func (q *Queue) Push(r Recipient, intent *Intent) {
	key := r.Key() + "/" + string(intent.Type)
	group, ok := q.groups[key]
	if !ok {
		group = &Group{Recipient: r, Type: intent.Type}
		q.groups[key] = group
		q.order = append(q.order, key)
	}
	group.Items = append(group.Items, intent)
}

func (q *Queue) Groups() []*Group {
	out := make([]*Group, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.groups[key])
	}
	return out
}

func (q *Queue) Len() int {
	return len(q.order)
}
