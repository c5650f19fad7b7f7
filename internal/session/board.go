package session

import (
	"github.com/google/uuid"

	"github.com/example/boardsync/internal/shape"
)

// Board is the client's local, render-ready document: decoded objects plus
// their draw order. The session keeps it mirrored with the replicated
// document.
type Board struct {
	Name   string
	Shapes map[uuid.UUID]shape.Object
	ZOrder []uuid.UUID
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{Shapes: map[uuid.UUID]shape.Object{}}
}

// AddShape places an object on top of the draw order.
func (b *Board) AddShape(obj shape.Object) {
	id := obj.ObjectID()
	if _, ok := b.Shapes[id]; !ok {
		b.ZOrder = append(b.ZOrder, id)
	}
	b.Shapes[id] = obj
}

// RemoveShape deletes an object, returning it if present.
func (b *Board) RemoveShape(id uuid.UUID) (shape.Object, bool) {
	obj, ok := b.Shapes[id]
	if !ok {
		return nil, false
	}
	delete(b.Shapes, id)
	for i, v := range b.ZOrder {
		if v == id {
			b.ZOrder = append(b.ZOrder[:i], b.ZOrder[i+1:]...)
			break
		}
	}
	return obj, true
}

// UpdateShape replaces an existing object in place. Returns false if the
// object is unknown.
func (b *Board) UpdateShape(obj shape.Object) bool {
	id := obj.ObjectID()
	if _, ok := b.Shapes[id]; !ok {
		return false
	}
	b.Shapes[id] = obj
	return true
}

// Clear empties the board.
func (b *Board) Clear() {
	b.Shapes = map[uuid.UUID]shape.Object{}
	b.ZOrder = nil
}
