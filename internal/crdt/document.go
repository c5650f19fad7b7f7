package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/boardsync/internal/shape"
	"github.com/example/boardsync/internal/types"
)

const (
	// maxUndoSteps bounds the local undo history.
	maxUndoSteps = 100
	// undoMergeInterval collapses rapid updates to the same shape (a drag)
	// into one undoable step.
	undoMergeInterval = 300 * time.Millisecond
)

type entry struct {
	Record  Record      `json:"record,omitempty"`
	Stamp   types.Stamp `json:"stamp"`
	Deleted bool        `json:"deleted,omitempty"`
}

type snapshot struct {
	Name      string           `json:"name"`
	NameStamp types.Stamp      `json:"name_stamp"`
	ZOrder    []string         `json:"z_order"`
	ZStamp    types.Stamp      `json:"z_order_stamp"`
	Shapes    map[string]entry `json:"shapes"`
	Version   types.VersionVector `json:"version"`
}

type undoStep struct {
	undo     func(d *Document)
	redo     func(d *Document)
	mergeKey string
	at       time.Time
}

// Document is one replica of a shared whiteboard. Peers exchange full
// snapshots; Import merges a snapshot field by field, newest stamp winning,
// so importing two snapshots in either order converges to the same state.
// Deletions leave tombstones, otherwise a stale snapshot would resurrect
// removed shapes.
type Document struct {
	mu        sync.Mutex
	actor     types.ActorID
	version   types.VersionVector
	shapes    map[string]entry
	zOrder    []string
	zStamp    types.Stamp
	name      string
	nameStamp types.Stamp
	undoStack []undoStep
	redoStack []undoStep
}

// NewDocument returns an empty document owned by the given actor.
func NewDocument(actor types.ActorID) *Document {
	return &Document{
		actor:   actor,
		version: types.VersionVector{},
		shapes:  map[string]entry{},
	}
}

// FromSnapshot builds a document directly from a received snapshot.
func FromSnapshot(actor types.ActorID, data []byte) (*Document, error) {
	d := NewDocument(actor)
	if err := d.Import(data); err != nil {
		return nil, err
	}
	return d, nil
}

// Actor returns the replica's actor id.
func (d *Document) Actor() types.ActorID { return d.actor }

func (d *Document) stamp() types.Stamp {
	s := types.Stamp{Lamport: d.version.Max() + 1, Actor: d.actor}
	d.version.Observe(s)
	return s
}

func (d *Document) setEntry(id string, rec Record, deleted bool) {
	d.shapes[id] = entry{Record: rec, Stamp: d.stamp(), Deleted: deleted}
}

func (d *Document) setOrder(order []string) {
	d.zOrder = order
	d.zStamp = d.stamp()
}

func (d *Document) setName(name string) {
	d.name = name
	d.nameStamp = d.stamp()
}

func (d *Document) pushUndo(step undoStep) {
	step.at = time.Now()
	if step.mergeKey != "" && len(d.undoStack) > 0 {
		last := &d.undoStack[len(d.undoStack)-1]
		if last.mergeKey == step.mergeKey && step.at.Sub(last.at) < undoMergeInterval {
			last.redo = step.redo
			last.at = step.at
			d.redoStack = nil
			return
		}
	}
	d.undoStack = append(d.undoStack, step)
	if len(d.undoStack) > maxUndoSteps {
		d.undoStack = d.undoStack[len(d.undoStack)-maxUndoSteps:]
	}
	d.redoStack = nil
}

// AddShape inserts a drawable object on top of the z-order.
func (d *Document) AddShape(obj shape.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := obj.ObjectID().String()
	rec := EncodeShape(obj)
	d.setEntry(id, rec, false)
	order := append(append([]string{}, d.zOrder...), id)
	d.setOrder(order)

	prevOrder := d.zOrder[:len(d.zOrder)-1]
	d.pushUndo(undoStep{
		undo: func(d *Document) {
			d.setEntry(id, nil, true)
			d.setOrder(append([]string{}, prevOrder...))
		},
		redo: func(d *Document) {
			d.setEntry(id, rec, false)
			d.setOrder(append(append([]string{}, prevOrder...), id))
		},
	})
}

// RemoveShape deletes a shape, leaving a tombstone. Returns false if the
// shape is not present.
func (d *Document) RemoveShape(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := id.String()
	prev, ok := d.shapes[key]
	if !ok || prev.Deleted {
		return false
	}
	prevOrder := append([]string{}, d.zOrder...)
	d.setEntry(key, nil, true)
	d.setOrder(removeID(d.zOrder, key))

	d.pushUndo(undoStep{
		undo: func(d *Document) {
			d.setEntry(key, prev.Record, false)
			d.setOrder(append([]string{}, prevOrder...))
		},
		redo: func(d *Document) {
			d.setEntry(key, nil, true)
			d.setOrder(removeID(d.zOrder, key))
		},
	})
	return true
}

// UpdateShape overwrites an existing shape's record. Returns false if the
// shape is unknown or deleted.
func (d *Document) UpdateShape(obj shape.Object) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := obj.ObjectID().String()
	prev, ok := d.shapes[key]
	if !ok || prev.Deleted {
		return false
	}
	rec := EncodeShape(obj)
	d.setEntry(key, rec, false)

	d.pushUndo(undoStep{
		undo:     func(d *Document) { d.setEntry(key, prev.Record, false) },
		redo:     func(d *Document) { d.setEntry(key, rec, false) },
		mergeKey: "update:" + key,
	})
	return true
}

// GetShape decodes a shape by id.
func (d *Document) GetShape(id uuid.UUID) (shape.Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.shapes[id.String()]
	if !ok || e.Deleted {
		return nil, false
	}
	return DecodeShape(e.Record)
}

// ShapeCount returns the number of live shapes.
func (d *Document) ShapeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int
	for _, e := range d.shapes {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// ZOrder returns shape ids back to front.
func (d *Document) ZOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.zOrder...)
}

// ShapesOrdered decodes all live shapes back to front. Records that fail to
// decode are skipped.
func (d *Document) ShapesOrdered() []shape.Object {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]shape.Object, 0, len(d.zOrder))
	for _, id := range d.zOrder {
		e, ok := d.shapes[id]
		if !ok || e.Deleted {
			continue
		}
		if obj, ok := DecodeShape(e.Record); ok {
			out = append(out, obj)
		}
	}
	return out
}

func (d *Document) reorder(id uuid.UUID, move func(order []string, idx int) ([]string, bool)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := id.String()
	idx := indexOf(d.zOrder, key)
	if idx < 0 {
		return false
	}
	next, moved := move(append([]string{}, d.zOrder...), idx)
	if !moved {
		return false
	}
	prev := append([]string{}, d.zOrder...)
	d.setOrder(next)

	d.pushUndo(undoStep{
		undo: func(d *Document) { d.setOrder(append([]string{}, prev...)) },
		redo: func(d *Document) { d.setOrder(append([]string{}, next...)) },
	})
	return true
}

// BringToFront moves a shape to the top of the z-order.
func (d *Document) BringToFront(id uuid.UUID) bool {
	return d.reorder(id, func(order []string, idx int) ([]string, bool) {
		if idx == len(order)-1 {
			return nil, false
		}
		key := order[idx]
		order = append(order[:idx], order[idx+1:]...)
		return append(order, key), true
	})
}

// SendToBack moves a shape to the bottom of the z-order.
func (d *Document) SendToBack(id uuid.UUID) bool {
	return d.reorder(id, func(order []string, idx int) ([]string, bool) {
		if idx == 0 {
			return nil, false
		}
		key := order[idx]
		order = append(order[:idx], order[idx+1:]...)
		return append([]string{key}, order...), true
	})
}

// BringForward swaps a shape with the one above it.
func (d *Document) BringForward(id uuid.UUID) bool {
	return d.reorder(id, func(order []string, idx int) ([]string, bool) {
		if idx >= len(order)-1 {
			return nil, false
		}
		order[idx], order[idx+1] = order[idx+1], order[idx]
		return order, true
	})
}

// SendBackward swaps a shape with the one below it.
func (d *Document) SendBackward(id uuid.UUID) bool {
	return d.reorder(id, func(order []string, idx int) ([]string, bool) {
		if idx == 0 {
			return nil, false
		}
		order[idx], order[idx-1] = order[idx-1], order[idx]
		return order, true
	})
}

// Name returns the document name.
func (d *Document) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// SetName replaces the document name.
func (d *Document) SetName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.name
	d.setName(name)
	d.pushUndo(undoStep{
		undo: func(d *Document) { d.setName(prev) },
		redo: func(d *Document) { d.setName(name) },
	})
}

// Clear tombstones every live shape and empties the z-order.
func (d *Document) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	prevOrder := append([]string{}, d.zOrder...)
	prevEntries := map[string]Record{}
	for id, e := range d.shapes {
		if e.Deleted {
			continue
		}
		prevEntries[id] = e.Record
		d.setEntry(id, nil, true)
	}
	d.setOrder(nil)

	d.pushUndo(undoStep{
		undo: func(d *Document) {
			for id, rec := range prevEntries {
				d.setEntry(id, rec, false)
			}
			d.setOrder(append([]string{}, prevOrder...))
		},
		redo: func(d *Document) {
			for id := range prevEntries {
				d.setEntry(id, nil, true)
			}
			d.setOrder(nil)
		},
	})
}

// ExportSnapshot serializes the full replica state, tombstones included.
func (d *Document) ExportSnapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := snapshot{
		Name:      d.name,
		NameStamp: d.nameStamp,
		ZOrder:    append([]string{}, d.zOrder...),
		ZStamp:    d.zStamp,
		Shapes:    make(map[string]entry, len(d.shapes)),
		Version:   d.version.Clone(),
	}
	for id, e := range d.shapes {
		snap.Shapes[id] = e
	}
	data, err := json.Marshal(snap)
	if err != nil {
		// Records hold only JSON-compatible values.
		panic(fmt.Sprintf("marshal snapshot: %v", err))
	}
	return data
}

// Import merges a peer snapshot into the replica. Per shape the newer stamp
// wins; the z-order and name are each taken wholesale from whichever side
// wrote them last. Imports are not undoable.
func (d *Document) Import(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	start := time.Now()
	defer func() { importLatency.Observe(time.Since(start).Seconds()) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, in := range snap.Shapes {
		local, ok := d.shapes[id]
		if !ok || local.Stamp.Less(in.Stamp) {
			d.shapes[id] = in
		}
	}
	if d.zStamp.Less(snap.ZStamp) {
		d.zOrder = append([]string{}, snap.ZOrder...)
		d.zStamp = snap.ZStamp
	}
	if d.nameStamp.Less(snap.NameStamp) {
		d.name = snap.Name
		d.nameStamp = snap.NameStamp
	}
	d.version.Merge(snap.Version)
	d.reconcileOrder()
	return nil
}

// reconcileOrder drops dead ids from the z-order and appends live shapes the
// winning order never saw, in a deterministic position so replicas agree.
func (d *Document) reconcileOrder() {
	present := map[string]bool{}
	order := d.zOrder[:0]
	for _, id := range d.zOrder {
		e, ok := d.shapes[id]
		if !ok || e.Deleted || present[id] {
			continue
		}
		present[id] = true
		order = append(order, id)
	}
	var missing []string
	for id, e := range d.shapes {
		if !e.Deleted && !present[id] {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		a, b := d.shapes[missing[i]].Stamp, d.shapes[missing[j]].Stamp
		if a != b {
			return a.Less(b)
		}
		return missing[i] < missing[j]
	})
	d.zOrder = append(order, missing...)
}

// Version returns a copy of the replica's version vector.
func (d *Document) Version() types.VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version.Clone()
}

// Undo reverts the most recent local operation. Remote imports are never
// undone.
func (d *Document) Undo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.undoStack) == 0 {
		return false
	}
	step := d.undoStack[len(d.undoStack)-1]
	d.undoStack = d.undoStack[:len(d.undoStack)-1]
	step.undo(d)
	d.redoStack = append(d.redoStack, step)
	return true
}

// Redo re-applies the most recently undone operation.
func (d *Document) Redo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.redoStack) == 0 {
		return false
	}
	step := d.redoStack[len(d.redoStack)-1]
	d.redoStack = d.redoStack[:len(d.redoStack)-1]
	step.redo(d)
	d.undoStack = append(d.undoStack, step)
	return true
}

// CanUndo reports whether an undo step is available.
func (d *Document) CanUndo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.undoStack) > 0
}

// CanRedo reports whether a redo step is available.
func (d *Document) CanRedo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.redoStack) > 0
}

// UndoCount returns the undo stack depth.
func (d *Document) UndoCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.undoStack)
}

// RedoCount returns the redo stack depth.
func (d *Document) RedoCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.redoStack)
}

// ClearUndoHistory drops both stacks.
func (d *Document) ClearUndoHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.undoStack = nil
	d.redoStack = nil
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func removeID(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, v := range order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
