package types

import "testing"

func TestStampOrdering(t *testing.T) {
	a := Stamp{Lamport: 3, Actor: 10}
	b := Stamp{Lamport: 4, Actor: 2}
	if !a.Less(b) {
		t.Fatalf("expected lamport 3 to order before lamport 4")
	}
	if b.Less(a) {
		t.Fatalf("ordering must be antisymmetric")
	}
	tieLow := Stamp{Lamport: 5, Actor: 1}
	tieHigh := Stamp{Lamport: 5, Actor: 9}
	if !tieLow.Less(tieHigh) {
		t.Fatalf("equal lamport must break ties by actor id")
	}
}

func TestVersionVectorObserveAndMerge(t *testing.T) {
	vv := VersionVector{}
	vv.Observe(Stamp{Lamport: 7, Actor: 1})
	vv.Observe(Stamp{Lamport: 3, Actor: 1})
	if vv[1] != 7 {
		t.Fatalf("observe must keep the max, got %d", vv[1])
	}

	other := VersionVector{1: 2, 2: 9}
	vv.Merge(other)
	if vv[1] != 7 || vv[2] != 9 {
		t.Fatalf("unexpected merge result: %v", vv)
	}
	if vv.Max() != 9 {
		t.Fatalf("expected max 9, got %d", vv.Max())
	}
}

func TestVersionVectorBumpAndClone(t *testing.T) {
	vv := VersionVector{}
	if got := vv.Bump(4); got != 1 {
		t.Fatalf("first bump should return 1, got %d", got)
	}
	clone := vv.Clone()
	clone.Bump(4)
	if vv[4] != 1 {
		t.Fatalf("clone must be independent, original changed to %d", vv[4])
	}
}

func TestNewActorIDIsRandom(t *testing.T) {
	seen := map[ActorID]bool{}
	for i := 0; i < 8; i++ {
		seen[NewActorID()] = true
	}
	if len(seen) < 2 {
		t.Fatalf("actor ids should not collide across 8 draws")
	}
}
