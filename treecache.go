package hxlive

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/containerd/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pthm/hxlive/lib/cache"
	"github.com/pthm/hxlive/lib/encoding"
	"github.com/vmihailenco/msgpack/v5"
)

const componentKeyPrefix = "hxlive:component:"

// record is the cached form of one component. Parent and children are
// stored as ids, so each node is written under its own key and no object
// graph is ever encoded.
type record struct {
	ID        string                  `msgpack:"id"`
	Name      string                  `msgpack:"name"`
	Key       string                  `msgpack:"key,omitempty"`
	ParentID  string                  `msgpack:"parent,omitempty"`
	ChildIDs  []string                `msgpack:"children,omitempty"`
	State     map[string][]byte       `msgpack:"state"`
	Errors    map[string][]FieldError `msgpack:"errors,omitempty"`
	Snapshots map[string][]byte       `msgpack:"snapshots,omitempty"`
}

type envelope struct {
	Sealed bool   `msgpack:"s"`
	Data   []byte `msgpack:"d"`
}

// TreeCache persists component trees between requests.
type TreeCache struct {
	reg     *Registry
	backend cache.Backend
	sealer  *encoding.Sealer
	ttl     time.Duration
	near    *lru.Cache[string, []byte]
}

func newTreeCache(reg *Registry, b cache.Backend, sealer *encoding.Sealer, ttl time.Duration, nearSize int) *TreeCache {
	tc := &TreeCache{reg: reg, backend: b, sealer: sealer, ttl: ttl}
	if nearSize > 0 {
		tc.near, _ = lru.New[string, []byte](nearSize)
	}
	return tc
}

// Store writes the whole tree containing c, from its root down. Every
// node is encoded before anything is written; if one cannot be encoded a
// *NotSerializableError is returned and the cache is left untouched. The
// live components are only read.
func (tc *TreeCache) Store(ctx context.Context, c Component) error {
	tree := baseOf(c).tree
	if tree == nil {
		tree = tc.reg.NewTree(nil)
		tree.add(c)
	}

	type encoded struct {
		id  string
		raw []byte
	}
	var batch []encoded
	err := tree.Walk(tree.Root(c), func(n Component) error {
		raw, err := tc.encode(n)
		if err != nil {
			b := baseOf(n)
			return &NotSerializableError{ID: b.id, Name: b.name, Err: err}
		}
		batch = append(batch, encoded{id: baseOf(n).id, raw: raw})
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range batch {
		if err := tc.backend.Set(ctx, componentKeyPrefix+e.id, e.raw, tc.ttl); err != nil {
			return fmt.Errorf("hxlive: cache write %s: %w", e.id, err)
		}
		if tc.near != nil {
			tc.near.Add(e.id, e.raw)
		}
	}
	return nil
}

// Restore loads the component with id into tree, then the ancestors above
// it and every cached descendant of the root. Restored components are
// bound to the tree's request and start with no queued calls and no
// validation run. Returns cache.ErrMiss when id is not cached.
func (tc *TreeCache) Restore(ctx context.Context, tree *Tree, id string) (Component, error) {
	c, err := tc.load(ctx, tree, id)
	if err != nil {
		return nil, err
	}

	n := c
	for {
		pid := baseOf(n).parentID
		if pid == "" || tree.Get(pid) != nil {
			break
		}
		p, err := tc.load(ctx, tree, pid)
		if cache.IsMiss(err) {
			log.G(ctx).WithField("component", pid).Debug("parent evicted, restoring as root")
			baseOf(n).parentID = ""
			break
		}
		if err != nil {
			return nil, err
		}
		n = p
	}

	if err := tc.loadChildren(ctx, tree, tree.Root(c)); err != nil {
		return nil, err
	}
	return c, nil
}

func (tc *TreeCache) loadChildren(ctx context.Context, tree *Tree, n Component) error {
	b := baseOf(n)
	var missing []string
	for _, id := range b.childIDs {
		child := tree.Get(id)
		if child == nil {
			var err error
			child, err = tc.load(ctx, tree, id)
			if cache.IsMiss(err) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
		}
		if err := tc.loadChildren(ctx, tree, child); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		b.childIDs = slices.DeleteFunc(b.childIDs, func(id string) bool { return slices.Contains(missing, id) })
	}
	return nil
}

// Delete removes a single component record.
func (tc *TreeCache) Delete(ctx context.Context, id string) error {
	if tc.near != nil {
		tc.near.Remove(id)
	}
	return tc.backend.Delete(ctx, componentKeyPrefix+id)
}

func (tc *TreeCache) fetch(ctx context.Context, id string) ([]byte, error) {
	if tc.near != nil {
		if raw, ok := tc.near.Get(id); ok {
			return raw, nil
		}
	}
	return tc.backend.Get(ctx, componentKeyPrefix+id)
}

func (tc *TreeCache) load(ctx context.Context, tree *Tree, id string) (Component, error) {
	raw, err := tc.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := tc.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("hxlive: decode cached %s: %w", id, err)
	}
	def, err := tc.reg.Def(rec.Name)
	if err != nil {
		return nil, err
	}

	c := def.factory()
	b := baseOf(c)
	b.id = rec.ID
	b.name = rec.Name
	b.key = rec.Key
	b.parentID = rec.ParentID
	b.childIDs = rec.ChildIDs
	b.def = def
	b.self = c
	b.errors = rec.Errors
	if b.errors == nil {
		b.errors = make(map[string][]FieldError)
	}
	b.snapshots = rec.Snapshots

	rv := reflect.ValueOf(c).Elem()
	for _, sf := range def.state {
		data, ok := rec.State[sf.key]
		if !ok {
			continue
		}
		field := rv.FieldByIndex(sf.index)
		field.Set(reflect.Zero(field.Type()))
		if err := msgpack.Unmarshal(data, field.Addr().Interface()); err != nil {
			return nil, fmt.Errorf("hxlive: decode cached %s.%s: %w", rec.Name, sf.key, err)
		}
	}

	tree.add(c)
	return c, nil
}

func (tc *TreeCache) encode(c Component) ([]byte, error) {
	b := baseOf(c)
	rec := record{
		ID:        b.id,
		Name:      b.name,
		Key:       b.key,
		ParentID:  b.parentID,
		ChildIDs:  b.childIDs,
		State:     make(map[string][]byte, len(b.def.state)),
		Errors:    b.errors,
		Snapshots: b.snapshots,
	}
	rv := reflect.ValueOf(c).Elem()
	for _, sf := range b.def.state {
		data, err := msgpack.Marshal(rv.FieldByIndex(sf.index).Interface())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sf.key, err)
		}
		rec.State[sf.key] = data
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	env := envelope{Data: data}
	if b.def.sensitive {
		env.Sealed = true
		if env.Data, err = tc.sealer.Seal(data); err != nil {
			return nil, err
		}
	}
	return msgpack.Marshal(&env)
}

func (tc *TreeCache) decode(raw []byte) (*record, error) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	data := env.Data
	if env.Sealed {
		var err error
		if data, err = tc.sealer.Open(data); err != nil {
			return nil, err
		}
	}
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
