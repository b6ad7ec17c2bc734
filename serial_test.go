package hxlive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pthm/hxlive/lib/cache"
	"github.com/vmihailenco/msgpack/v5"
)

func TestMergeRequests(t *testing.T) {
	mk := func(epoch int64, label string, actions ...Action) *ComponentRequest {
		return &ComponentRequest{
			ID:       "c",
			Name:     "counter",
			Epoch:    epoch,
			Hash:     fmt.Sprint("h", epoch),
			Checksum: fmt.Sprint("s", epoch),
			Data:     map[string]any{"label": label},
			Actions:  actions,
		}
	}
	reqs := []*ComponentRequest{
		mk(30, "third", &SyncInput{Name: "label", Value: "z"}),
		mk(10, "first", &CallMethod{Name: "increment"}),
		mk(20, "second", &SyncInput{Name: "label", Value: "y"}, &CallMethod{Name: "hit"}),
	}

	tests := []struct {
		name      string
		policy    MergePolicy
		wantLabel string
		wantHash  string
	}{
		{"keep first data", MergeKeepFirstData, "first", "h10"},
		{"keep last data", MergeKeepLastData, "third", "h30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeRequests(reqs, tt.policy)

			var kinds []string
			for _, a := range got.Actions {
				kinds = append(kinds, a.Kind())
			}
			if diff := cmp.Diff([]string{"callMethod", "syncInput", "callMethod", "syncInput"}, kinds); diff != "" {
				t.Errorf("actions mismatch (-want +got):\n%s", diff)
			}
			if got.Epoch != 30 {
				t.Errorf("Epoch = %d, want 30", got.Epoch)
			}
			if got.Data["label"] != tt.wantLabel || got.Hash != tt.wantHash {
				t.Errorf("data from %v/%s, want %s/%s", got.Data["label"], got.Hash, tt.wantLabel, tt.wantHash)
			}
			if diff := cmp.Diff(map[string]any{"label": "z"}, got.finalSync); diff != "" {
				t.Errorf("finalSync mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if reqs[0].Epoch != 30 {
		t.Error("mergeRequests reordered its input")
	}
}

func enqueue(t *testing.T, q *cache.Queue, name string, body []byte) {
	t.Helper()
	raw, err := msgpack.Marshal(&queueEntry{Name: name, Body: body})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Append(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
}

func TestSerialQueuedAck(t *testing.T) {
	reg := newTestRegistry(t, WithSerial(SerialOptions{Mode: SerialReturn}))
	client := NewTestClient(reg)
	c := mount(t, client, "counter")

	inflight, err := c.Body(CallAction("increment"))
	if err != nil {
		t.Fatal(err)
	}
	q := cache.NewQueue(reg.Backend(), queueKeyPrefix+c.ID, time.Minute)
	enqueue(t, q, "counter", inflight)

	res := send(t, c, CallAction("increment"))
	if !res.Queued {
		t.Fatalf("status = %d body = %s, want queued acknowledgment", res.StatusCode, res.Body)
	}
	if !strings.Contains(res.Body, `"original_epoch":1`) || !strings.Contains(res.Body, `"epoch":2`) {
		t.Errorf("ack = %s, want epoch 2 queued behind epoch 1", res.Body)
	}

	entries, err := q.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("queue length = %d, want 2", len(entries))
	}
}

func TestSerialDrain(t *testing.T) {
	reg := newTestRegistry(t, WithSerial(SerialOptions{Mode: SerialReturn}))
	client := NewTestClient(reg)
	c := mount(t, client, "counter")
	ctx := context.Background()

	bodyA, _ := c.Body(SyncAction("label", "a"))
	bodyB, _ := c.Body(CallAction("push('b')"))
	bodyC, _ := c.Body(SyncAction("label", "abc"))

	q := cache.NewQueue(reg.Backend(), queueKeyPrefix+c.ID, time.Minute)
	for _, body := range [][]byte{bodyA, bodyC, bodyB} {
		enqueue(t, q, "counter", body)
	}

	reqA, err := reg.DecodeRequest("counter", bodyA)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := reg.serial.drain(ctx, nil, q, reqA)
	if err != nil {
		t.Fatalf("drain() error = %v", err)
	}

	if resp.Data["label"] != "abc" {
		t.Errorf("Data[label] = %v, want abc", resp.Data["label"])
	}
	if got := fmt.Sprint(resp.Data["log"]); got != "[b]" {
		t.Errorf("Data[log] = %s, want [b]", got)
	}

	entries, err := q.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("queue length = %d after drain, want 0", len(entries))
	}
}

func TestSerialSingleMessage(t *testing.T) {
	reg := newTestRegistry(t, WithSerial(SerialOptions{Mode: SerialReturn}))
	c := mount(t, NewTestClient(reg), "counter")
	q := cache.NewQueue(reg.Backend(), queueKeyPrefix+c.ID, time.Minute)
	queueLen := func() int {
		entries, err := q.Entries(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return len(entries)
	}

	resp := mustOK(t, send(t, c, CallAction("increment")))
	if resp.Data["count"] != int64(1) {
		t.Errorf("Data[count] = %v, want 1", resp.Data["count"])
	}
	if n := queueLen(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}

	res := send(t, c, CallAction("fail"))
	if res.StatusCode != 500 {
		t.Errorf("status = %d, want 500", res.StatusCode)
	}
	if n := queueLen(); n != 0 {
		t.Errorf("queue length = %d after failure, want 0", n)
	}
}

func TestSerialBlockConcurrent(t *testing.T) {
	reg := newTestRegistry(t, WithSerial(SerialOptions{Mode: SerialBlock, Timeout: 10 * time.Second}))
	c := mount(t, NewTestClient(reg), "counter")
	body, err := c.Body(CallAction("hit"))
	if err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := reg.DecodeRequest("counter", body)
			if err != nil {
				errs <- err
				return
			}
			if _, err := reg.Handle(context.Background(), nil, req); err != nil && !IsNotModified(err) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Handle() error = %v", err)
	}

	cached, err := reg.Cache().Restore(context.Background(), reg.NewTree(nil), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := cached.(*counter).Hits; got != n {
		t.Errorf("Hits = %d, want %d", got, n)
	}
}

// signalBackend reports every queue push and runs beforePop ahead of the
// first head removal.
type signalBackend struct {
	*cache.Memory
	pushes    chan struct{}
	beforePop func()
	once      sync.Once
}

func newSignalBackend() *signalBackend {
	return &signalBackend{Memory: cache.NewMemory(0), pushes: make(chan struct{}, 64)}
}

func (b *signalBackend) Push(ctx context.Context, key string, val []byte, ttl time.Duration) (int64, error) {
	n, err := b.Memory.Push(ctx, key, val, ttl)
	b.pushes <- struct{}{}
	return n, err
}

func (b *signalBackend) PopFront(ctx context.Context, key string, n int) ([][]byte, error) {
	if b.beforePop != nil {
		b.once.Do(b.beforePop)
	}
	return b.Memory.PopFront(ctx, key, n)
}

func cachedTrail(t *testing.T, reg *Registry, id string) []string {
	t.Helper()
	cached, err := reg.Cache().Restore(context.Background(), reg.NewTree(nil), id)
	if err != nil {
		t.Fatal(err)
	}
	return cached.(*counter).Trail
}

func TestSerialArrivalDuringDrain(t *testing.T) {
	backend := newSignalBackend()
	reg := newTestRegistry(t, WithBackend(backend), WithSerial(SerialOptions{Mode: SerialReturn, Timeout: 10 * time.Second}))
	c := mount(t, NewTestClient(reg), "counter")
	ctx := context.Background()

	first, _ := c.Body(CallAction("mark('1')"))
	second, _ := c.Body(CallAction("mark('2')"))
	reqFirst, err := reg.DecodeRequest("counter", first)
	if err != nil {
		t.Fatal(err)
	}
	reqSecond, err := reg.DecodeRequest("counter", second)
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		resp *Response
		err  error
	}
	late := make(chan result, 1)
	backend.beforePop = func() {
		go func() {
			resp, err := reg.Handle(ctx, nil, reqSecond)
			late <- result{resp, err}
		}()
		<-backend.pushes // the first message
		<-backend.pushes // the late arrival
	}

	if _, err := reg.Handle(ctx, nil, reqFirst); err != nil && !IsNotModified(err) {
		t.Fatalf("Handle(first) error = %v", err)
	}
	got := <-late
	if got.err != nil {
		t.Fatalf("Handle(second) error = %v", got.err)
	}
	if !got.resp.Queued {
		t.Errorf("second message not queued behind the first: %+v", got.resp)
	}

	if diff := cmp.Diff([]string{"1", "2"}, cachedTrail(t, reg, c.ID)); diff != "" {
		t.Errorf("Trail mismatch (-want +got):\n%s", diff)
	}
}

func TestSerialReturnConcurrent(t *testing.T) {
	backend := newSignalBackend()
	reg := newTestRegistry(t, WithBackend(backend), WithSerial(SerialOptions{Mode: SerialReturn, Timeout: 10 * time.Second}))
	c := mount(t, NewTestClient(reg), "counter")

	const n = 20
	reqs := make([]*ComponentRequest, n)
	want := make([]string, n)
	for i := range reqs {
		want[i] = fmt.Sprint(i + 1)
		body, err := c.Body(CallAction(fmt.Sprintf("mark('%d')", i+1)))
		if err != nil {
			t.Fatal(err)
		}
		if reqs[i], err = reg.DecodeRequest("counter", body); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Handle(context.Background(), nil, req); err != nil && !IsNotModified(err) {
				errs <- err
			}
		}()
		// Each message reaches the queue before the next one is sent.
		<-backend.pushes
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Handle() error = %v", err)
	}

	if diff := cmp.Diff(want, cachedTrail(t, reg, c.ID)); diff != "" {
		t.Errorf("Trail mismatch (-want +got):\n%s", diff)
	}
}
