package store

import (
	"context"
	"testing"
)

func TestSetAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Set(ctx, "rooms/ABC123", Fields{"host": "Aina", "raceTime": int64(5)})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	v, err := m.Get(ctx, "rooms/ABC123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rec, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected record, got %T", v)
	}
	if rec["host"] != "Aina" {
		t.Fatalf("expected host Aina, got %v", rec["host"])
	}
	if rec["raceTime"] != int64(5) {
		t.Fatalf("expected raceTime 5, got %v", rec["raceTime"])
	}

	// leaf read through a subpath
	v, err = m.Get(ctx, "rooms/ABC123/host")
	if err != nil {
		t.Fatalf("get leaf: %v", err)
	}
	if v != "Aina" {
		t.Fatalf("expected leaf Aina, got %v", v)
	}
}

func TestGetAbsentPathIsNil(t *testing.T) {
	m := NewMemory()
	v, err := m.Get(context.Background(), "rooms/NOPE")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil for absent path, got %v", v)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "rooms/X/players/Aina", Fields{"stage": int64(0), "completed": false})
	m.Update(ctx, "rooms/X/players/Aina", Fields{"stage": int64(2)})

	v, _ := m.Get(ctx, "rooms/X/players/Aina")
	rec := v.(map[string]any)
	if rec["stage"] != int64(2) {
		t.Fatalf("expected stage 2, got %v", rec["stage"])
	}
	if rec["completed"] != false {
		t.Fatal("merge should leave untouched fields in place")
	}
}

func TestSetReplacesRecord(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "rooms/X", Fields{"host": "Aina", "status": "waiting"})
	m.Set(ctx, "rooms/X", Fields{"status": "playing"})

	v, _ := m.Get(ctx, "rooms/X")
	rec := v.(map[string]any)
	if _, ok := rec["host"]; ok {
		t.Fatal("set should replace the whole record")
	}
}

func TestDeleteRemovesSubtree(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "rooms/X/players/Aina", Fields{"stage": int64(0)})
	m.Delete(ctx, "rooms/X")

	if v, _ := m.Get(ctx, "rooms/X"); v != nil {
		t.Fatalf("expected nil after delete, got %v", v)
	}
	if v, _ := m.Get(ctx, "rooms/X/players/Aina"); v != nil {
		t.Fatalf("expected nil for deleted child, got %v", v)
	}
}

func TestSubscribeFiresImmediately(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "rooms/X/players/Aina", Fields{"stage": int64(0)})

	var got []any
	cancel := m.Subscribe("rooms/X/players", func(snap any) {
		got = append(got, snap)
	})
	defer cancel()

	if len(got) != 1 {
		t.Fatalf("expected 1 initial callback, got %d", len(got))
	}
	players := got[0].(map[string]any)
	if _, ok := players["Aina"]; !ok {
		t.Fatal("initial snapshot should contain current players")
	}
}

func TestSubscribeSeesChildWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got []any
	cancel := m.Subscribe("rooms/X/players", func(snap any) {
		got = append(got, snap)
	})
	defer cancel()

	if got[0] != nil {
		t.Fatalf("expected nil initial snapshot, got %v", got[0])
	}

	m.Set(ctx, "rooms/X/players/Aina", Fields{"stage": int64(0)})
	m.Update(ctx, "rooms/X/players/Aina", Fields{"stage": int64(2)})
	m.Set(ctx, "rooms/X/players/Bob", Fields{"stage": int64(0)})

	if len(got) != 4 {
		t.Fatalf("expected 4 callbacks, got %d", len(got))
	}
	last := got[3].(map[string]any)
	if len(last) != 2 {
		t.Fatalf("snapshot should be the full set, got %d entries", len(last))
	}
	aina := last["Aina"].(map[string]any)
	if aina["stage"] != int64(2) {
		t.Fatalf("expected merged stage 2, got %v", aina["stage"])
	}
}

func TestSubscribeSeesAncestorDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "rooms/X/players/Aina", Fields{"stage": int64(0)})

	var got []any
	cancel := m.Subscribe("rooms/X/players", func(snap any) {
		got = append(got, snap)
	})
	defer cancel()

	m.Delete(ctx, "rooms/X")

	if len(got) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(got))
	}
	if got[1] != nil {
		t.Fatalf("expected nil snapshot after room delete, got %v", got[1])
	}
}

func TestCancelStopsCallbacks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	count := 0
	cancel := m.Subscribe("rooms/X", func(any) { count++ })
	cancel()
	cancel() // idempotent

	m.Set(ctx, "rooms/X", Fields{"status": "waiting"})
	if count != 1 {
		t.Fatalf("expected only the initial callback, got %d", count)
	}
}
