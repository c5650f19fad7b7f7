package types

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
)

// RoomName identifies a collaboration room on the relay.
type RoomName string

// PeerID represents a relay-side connection. It is assigned by the relay
// and is unrelated to the document-level ActorID.
type PeerID string

// ActorID identifies a replica of the shared document. Each session picks a
// random 64-bit actor id at construction time.
type ActorID uint64

// NewActorID returns a cryptographically random actor id.
func NewActorID() ActorID {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("read random actor id: %v", err))
	}
	return ActorID(binary.LittleEndian.Uint64(buf[:]))
}

// String renders the actor id the way it appears in logs and snapshots.
func (a ActorID) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Stamp is a last-writer-wins timestamp. Stamps are totally ordered: higher
// lamport wins, ties broken by actor id.
type Stamp struct {
	Lamport uint64 `json:"lamport"`
	Actor   ActorID `json:"actor"`
}

// Less reports whether s orders strictly before other.
func (s Stamp) Less(other Stamp) bool {
	if s.Lamport != other.Lamport {
		return s.Lamport < other.Lamport
	}
	return s.Actor < other.Actor
}

// VersionVector keeps the highest lamport value observed per actor.
type VersionVector map[ActorID]uint64

// Bump advances the entry for an actor and returns the new value.
func (vv VersionVector) Bump(actor ActorID) uint64 {
	vv[actor] = vv[actor] + 1
	return vv[actor]
}

// Observe records a stamp, raising the actor entry if the stamp is newer.
func (vv VersionVector) Observe(s Stamp) {
	if current, ok := vv[s.Actor]; !ok || s.Lamport > current {
		vv[s.Actor] = s.Lamport
	}
}

// Merge folds another vector into the receiver by taking the max per entry.
func (vv VersionVector) Merge(other VersionVector) {
	for actor, value := range other {
		if current, ok := vv[actor]; !ok || value > current {
			vv[actor] = value
		}
	}
}

// Max returns the highest lamport value across all entries.
func (vv VersionVector) Max() uint64 {
	var max uint64
	for _, value := range vv {
		if value > max {
			max = value
		}
	}
	return max
}

// Clone returns an independent copy of the vector.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for actor, value := range vv {
		out[actor] = value
	}
	return out
}
