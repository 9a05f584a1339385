// Package crdt implements the replicated room document: a character
// sequence, a last-writer-wins map, and a push-only array. Ops live in an
// arena addressed by (client id, dense seq); conflicts resolve by
// (lamport, client).
package crdt

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// Doc is one replica of a collaborative document. Safe for concurrent use.
type Doc struct {
	mu sync.Mutex

	clientID uint64
	lamport  uint64
	gc       bool

	arena   map[uint64][]*op          // integrated ops per client, dense in seq order
	pending map[uint64]map[uint64]*op // ops that arrived ahead of a gap

	first    *op            // text sequence head
	mapState map[string]*op // winning op per map key
	arr      []*op          // push-only array ordered by (lamport, client)

	updateHandlers []func(update []byte)
	errorHandlers  []func(err error)
}

type Option func(*Doc)

// WithClientID fixes the replica's client id instead of picking a random one.
func WithClientID(id uint64) Option {
	return func(d *Doc) { d.clientID = id }
}

// WithGC controls whether tombstoned characters drop their content. Enabled
// keeps snapshots small; disabled retains full tombstones so diffs against
// arbitrarily old state vectors still carry the original characters.
func WithGC(enabled bool) Option {
	return func(d *Doc) { d.gc = enabled }
}

func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		// A 32-bit id keeps the varint encoding short; collisions between
		// two participants of one room are not a practical concern.
		clientID: uint64(rand.Uint32()),
		arena:    make(map[uint64][]*op),
		pending:  make(map[uint64]map[uint64]*op),
		mapState: make(map[string]*op),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Doc) ClientID() uint64 {
	return d.clientID
}

// OnUpdate registers a handler invoked with the encoded delta after every
// change that altered document state. Handlers run outside the lock.
func (d *Doc) OnUpdate(fn func(update []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateHandlers = append(d.updateHandlers, fn)
}

// OnError registers a diagnostics handler. It is invoked via RaiseError when
// the transport encounters a message it cannot interpret; the document state
// itself is never affected by such messages.
func (d *Doc) OnError(fn func(err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorHandlers = append(d.errorHandlers, fn)
}

func (d *Doc) RaiseError(err error) {
	d.mu.Lock()
	handlers := append([]func(error){}, d.errorHandlers...)
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (d *Doc) emitUpdate(update []byte) {
	d.mu.Lock()
	handlers := append([]func([]byte){}, d.updateHandlers...)
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(update)
	}
}

// InsertText inserts s at the given rune offset of the visible text.
func (d *Doc) InsertText(index int, s string) error {
	if s == "" {
		return nil
	}

	d.mu.Lock()
	prev, err := d.visibleItem(index - 1)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	var origin *ID
	if prev != nil {
		id := prev.id
		origin = &id
	}

	var ops []*op
	for _, r := range s {
		o := d.newOp(opTextInsert)
		o.origin = origin
		o.content = string(r)
		d.integrate(o)
		id := o.id
		origin = &id
		ops = append(ops, o)
	}
	update := encodeOps(ops)
	d.mu.Unlock()

	d.emitUpdate(update)
	return nil
}

// DeleteText tombstones n runes starting at the given offset.
func (d *Doc) DeleteText(index, n int) error {
	if n <= 0 {
		return nil
	}

	d.mu.Lock()
	targets, err := d.visibleRange(index, n)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	ops := make([]*op, 0, len(targets))
	for _, t := range targets {
		o := d.newOp(opTextDelete)
		o.target = t.id
		d.integrate(o)
		ops = append(ops, o)
	}
	update := encodeOps(ops)
	d.mu.Unlock()

	d.emitUpdate(update)
	return nil
}

// SetKey sets a map entry. Concurrent writes to the same key resolve
// last-writer-wins by (lamport, client).
func (d *Doc) SetKey(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	d.mu.Lock()
	o := d.newOp(opMapSet)
	o.key = key
	o.content = string(raw)
	d.integrate(o)
	update := encodeOps([]*op{o})
	d.mu.Unlock()

	d.emitUpdate(update)
	return nil
}

// PushArray appends a value to the shared array. Concurrent pushes order
// deterministically by (lamport, client).
func (d *Doc) PushArray(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	d.mu.Lock()
	o := d.newOp(opArrayPush)
	o.content = string(raw)
	d.integrate(o)
	update := encodeOps([]*op{o})
	d.mu.Unlock()

	d.emitUpdate(update)
	return nil
}

// Text returns the visible text.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	for it := d.first; it != nil; it = it.right {
		if !it.deleted {
			b.WriteString(it.content)
		}
	}
	return b.String()
}

// TextLen returns the visible text length in runes.
func (d *Doc) TextLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visibleLen()
}

// GetKey returns the current value for a map key.
func (d *Doc) GetKey(key string) (json.RawMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.mapState[key]
	if !ok {
		return nil, false
	}
	return json.RawMessage(o.content), true
}

// Array returns the shared array contents in their converged order.
func (d *Doc) Array() []json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]json.RawMessage, len(d.arr))
	for i, o := range d.arr {
		out[i] = json.RawMessage(o.content)
	}
	return out
}

// ApplyUpdate merges a remote update. Duplicate operations are skipped,
// operations that arrive ahead of a gap in their client's sequence are
// buffered until the gap fills, and a decode error leaves the document
// untouched.
func (d *Doc) ApplyUpdate(update []byte) error {
	ops, err := decodeUpdate(update)
	if err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	d.mu.Lock()
	for _, o := range ops {
		if o.id.Seq < uint64(len(d.arena[o.id.Client])) {
			continue // already integrated
		}
		d.queuePending(o)
	}
	applied := d.drainPending()
	d.mu.Unlock()

	if len(applied) == 0 {
		return nil
	}
	d.emitUpdate(encodeOps(applied))
	return nil
}

func (d *Doc) newOp(kind opKind) *op {
	d.lamport++
	return &op{
		id:      ID{Client: d.clientID, Seq: uint64(len(d.arena[d.clientID]))},
		lamport: d.lamport,
		kind:    kind,
	}
}

func (d *Doc) getOp(id ID) *op {
	ops := d.arena[id.Client]
	if id.Seq >= uint64(len(ops)) {
		return nil
	}
	return ops[id.Seq]
}

func (d *Doc) queuePending(o *op) {
	m, ok := d.pending[o.id.Client]
	if !ok {
		m = make(map[uint64]*op)
		d.pending[o.id.Client] = m
	}
	m[o.id.Seq] = o
}

// depsReady reports whether every operation o refers to is already in the
// arena.
func (d *Doc) depsReady(o *op) bool {
	switch o.kind {
	case opTextInsert:
		return o.origin == nil || d.getOp(*o.origin) != nil
	case opTextDelete:
		return d.getOp(o.target) != nil
	default:
		return true
	}
}

// drainPending integrates every buffered operation whose sequence gap has
// closed and whose dependencies are present, looping until no progress is
// made. Returns the operations integrated during this call.
func (d *Doc) drainPending() []*op {
	var applied []*op
	progress := true
	for progress {
		progress = false
		for client, ops := range d.pending {
			for {
				next := uint64(len(d.arena[client]))
				o, ok := ops[next]
				if !ok || !d.depsReady(o) {
					break
				}
				delete(ops, next)
				d.integrate(o)
				applied = append(applied, o)
				progress = true
			}
			if len(ops) == 0 {
				delete(d.pending, client)
			}
		}
	}
	return applied
}

func (d *Doc) integrate(o *op) {
	d.arena[o.id.Client] = append(d.arena[o.id.Client], o)
	if o.lamport > d.lamport {
		d.lamport = o.lamport
	}

	switch o.kind {
	case opTextInsert:
		d.integrateInsert(o)
	case opTextDelete:
		if t := d.getOp(o.target); t != nil && !t.deleted {
			t.deleted = true
			if d.gc {
				t.content = ""
			}
		}
	case opMapSet:
		if cur, ok := d.mapState[o.key]; !ok || precedes(cur, o) {
			d.mapState[o.key] = o
		}
	case opArrayPush:
		i := sort.Search(len(d.arr), func(i int) bool { return precedes(o, d.arr[i]) })
		d.arr = append(d.arr, nil)
		copy(d.arr[i+1:], d.arr[i:])
		d.arr[i] = o
	}
}

// integrateInsert links o into the sequence using the RGA rule: scan right
// from the origin and skip every item that sorts after o. An item created
// with knowledge of a larger prefix carries a larger Lamport timestamp, so
// the skipped region is exactly the subtrees of greater concurrent siblings.
func (d *Doc) integrateInsert(o *op) {
	var prev, cur *op
	if o.origin != nil {
		prev = d.getOp(*o.origin)
		cur = prev.right
	} else {
		cur = d.first
	}

	for cur != nil && precedes(o, cur) {
		prev = cur
		cur = cur.right
	}

	o.left = prev
	o.right = cur
	if prev != nil {
		prev.right = o
	} else {
		d.first = o
	}
	if cur != nil {
		cur.left = o
	}
}

func (d *Doc) visibleLen() int {
	n := 0
	for it := d.first; it != nil; it = it.right {
		if !it.deleted {
			n++
		}
	}
	return n
}

// visibleItem returns the item at the given visible offset, or nil for
// offset -1 (the document head).
func (d *Doc) visibleItem(index int) (*op, error) {
	if index < -1 {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	if index == -1 {
		return nil, nil
	}
	i := 0
	for it := d.first; it != nil; it = it.right {
		if it.deleted {
			continue
		}
		if i == index {
			return it, nil
		}
		i++
	}
	return nil, fmt.Errorf("index %d out of range", index)
}

func (d *Doc) visibleRange(index, n int) ([]*op, error) {
	if index < 0 {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	var out []*op
	i := 0
	for it := d.first; it != nil && len(out) < n; it = it.right {
		if it.deleted {
			continue
		}
		if i >= index {
			out = append(out, it)
		}
		i++
	}
	if len(out) < n {
		return nil, fmt.Errorf("range [%d, %d) out of bounds", index, index+n)
	}
	return out, nil
}
