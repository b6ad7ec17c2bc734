package hxlive

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/containerd/log"
	"github.com/pthm/hxlive/lib/cache"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	queueKeyPrefix = "hxlive:queue:"
	lockKeyPrefix  = "hxlive:lock:"
)

// SerialMode selects how a message waits for one already in flight for the
// same component.
type SerialMode int

const (
	// SerialReturn answers later messages immediately with a queued
	// acknowledgment. The in-flight request drains them afterwards and its
	// response reflects every queued action.
	SerialReturn SerialMode = iota
	// SerialBlock makes later messages wait on a lock until the in-flight
	// one completes.
	SerialBlock
)

// MergePolicy picks the data kept when queued messages are merged. Actions
// are always concatenated in epoch order.
type MergePolicy int

const (
	// MergeKeepFirstData keeps the data of the earliest message. Later
	// messages were sent before the earlier ones were answered, so their
	// data holds no server-side changes.
	MergeKeepFirstData MergePolicy = iota
	// MergeKeepLastData keeps the data of the latest message.
	MergeKeepLastData
)

// SerialOptions configures per-component serialization of messages.
type SerialOptions struct {
	Enabled bool
	Mode    SerialMode
	// Timeout bounds how long a message waits in SerialBlock mode and how
	// long an abandoned queue survives.
	Timeout time.Duration
	Merge   MergePolicy
}

// SerialQueue makes messages for the same component id run one at a time
// across every process sharing the backend.
type SerialQueue struct {
	reg     *Registry
	backend cache.Backend
	opts    SerialOptions
}

func newSerialQueue(reg *Registry, b cache.Backend, opts SerialOptions) *SerialQueue {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &SerialQueue{reg: reg, backend: b, opts: opts}
}

type queueEntry struct {
	Name string `msgpack:"name"`
	Body []byte `msgpack:"body"`
}

// Handle dispatches req once no other message for its component is in
// flight.
func (q *SerialQueue) Handle(ctx context.Context, r *http.Request, req *ComponentRequest) (*Response, error) {
	if q.opts.Mode == SerialBlock {
		lock := cache.NewLock(q.backend, lockKeyPrefix+req.ID, q.opts.Timeout)
		if err := lock.Acquire(ctx, q.opts.Timeout); err != nil {
			return nil, err
		}
		defer lock.Release(context.WithoutCancel(ctx))
		return q.reg.Dispatch(ctx, r, req)
	}

	queue := cache.NewQueue(q.backend, queueKeyPrefix+req.ID, q.opts.Timeout)
	raw, err := msgpack.Marshal(&queueEntry{Name: req.Name, Body: req.Body})
	if err != nil {
		return nil, err
	}
	n, err := queue.Append(ctx, raw)
	if err != nil {
		return nil, err
	}
	if n > 1 {
		ack := &Response{ID: req.ID, Queued: true, Epoch: req.Epoch, OriginalEpoch: req.Epoch}
		if head, err := q.head(ctx, queue); err == nil && head != nil {
			ack.OriginalEpoch = head.Epoch
		}
		log.G(ctx).WithField("component", req.ID).Debugf("message queued behind %d", n-1)
		return ack, nil
	}
	return q.drain(ctx, r, queue, req)
}

// drain dispatches req, then merges and dispatches whatever queued up
// behind it, until the queue is empty. The entry standing for the running
// request stays at the head while it runs, so new arrivals keep queueing
// behind it instead of starting a drain of their own.
func (q *SerialQueue) drain(ctx context.Context, r *http.Request, queue *cache.Queue, req *ComponentRequest) (*Response, error) {
	for {
		resp, err := q.reg.Dispatch(ctx, r, req)
		if err != nil && !IsNotModified(err) {
			if cerr := queue.Clear(context.WithoutCancel(ctx)); cerr != nil {
				log.G(ctx).WithError(cerr).Warn("serial queue not cleared")
			}
			return nil, err
		}

		raw, perr := queue.PopFront(ctx, 1)
		if perr != nil {
			return nil, perr
		}
		pending := q.decodeAll(ctx, raw)
		for len(pending) == 0 && len(raw) > 0 {
			if raw, perr = queue.PopFront(ctx, len(raw)); perr != nil {
				return nil, perr
			}
			pending = q.decodeAll(ctx, raw)
		}
		if len(pending) == 0 {
			return resp, err
		}
		if _, perr := queue.PopFront(ctx, len(raw)-1); perr != nil {
			return nil, perr
		}
		req = mergeRequests(pending, q.opts.Merge)
	}
}

func (q *SerialQueue) decodeAll(ctx context.Context, entries [][]byte) []*ComponentRequest {
	out := make([]*ComponentRequest, 0, len(entries))
	for _, raw := range entries {
		req, err := q.decode(raw)
		if err != nil {
			log.G(ctx).WithError(err).Warn("dropping unreadable queued message")
			continue
		}
		out = append(out, req)
	}
	return out
}

func (q *SerialQueue) head(ctx context.Context, queue *cache.Queue) (*ComponentRequest, error) {
	entries, err := queue.Entries(ctx)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return q.decode(entries[0])
}

func (q *SerialQueue) decode(raw []byte) (*ComponentRequest, error) {
	var e queueEntry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return q.reg.DecodeRequest(e.Name, e.Body)
}

// mergeRequests folds queued requests into one, ordered by epoch.
func mergeRequests(reqs []*ComponentRequest, policy MergePolicy) *ComponentRequest {
	sorted := slices.Clone(reqs)
	slices.SortStableFunc(sorted, func(a, b *ComponentRequest) int {
		switch {
		case a.Epoch < b.Epoch:
			return -1
		case a.Epoch > b.Epoch:
			return 1
		}
		return 0
	})

	first, last := sorted[0], sorted[len(sorted)-1]
	dataFrom := first
	if policy == MergeKeepLastData {
		dataFrom = last
	}
	merged := &ComponentRequest{
		ID:        first.ID,
		Name:      first.Name,
		Key:       first.Key,
		Epoch:     last.Epoch,
		Hash:      dataFrom.Hash,
		Data:      maps.Clone(dataFrom.Data),
		Checksum:  dataFrom.Checksum,
		Body:      last.Body,
		finalSync: make(map[string]any),
	}
	for _, r := range sorted {
		merged.Actions = append(merged.Actions, r.Actions...)
	}
	for _, a := range merged.Actions {
		if s, ok := a.(*SyncInput); ok {
			merged.finalSync[s.Name] = s.Value
		}
	}
	return merged
}
