package race

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/aqilh/breachrace/internal/store"
)

func newTestRegistry() (*Registry, *Roster, *store.Memory, *clockwork.FakeClock) {
	st := store.NewMemory()
	fc := clockwork.NewFakeClock()
	return NewRegistry(st, fc, 6), NewRoster(st), st, fc
}

func TestCreateRoom(t *testing.T) {
	reg, ros, _, _ := newTestRegistry()
	ctx := context.Background()

	code, err := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-char code, got %q", code)
	}

	room, err := reg.Room(ctx, code)
	if err != nil {
		t.Fatalf("read room: %v", err)
	}
	if room.Status != StatusWaiting {
		t.Fatalf("expected status waiting, got %s", room.Status)
	}
	if room.Host != "Aina" || room.Parentwork != "phishing" || room.RaceTime != 5 {
		t.Fatalf("room config not persisted: %+v", room)
	}

	players, err := ros.Players(ctx, code)
	if err != nil {
		t.Fatalf("read players: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("expected exactly the host, got %d players", len(players))
	}
	host := players["Aina"]
	if !host.IsHost || host.Stage != 0 || host.Completed {
		t.Fatalf("unexpected host record: %+v", host)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()

	cases := []struct {
		name, parentwork, url string
		minutes               int
	}{
		{"", "phishing", "http://example.test", 5},
		{"Aina", "", "http://example.test", 5},
		{"Aina", "phishing", "", 5},
		{"Aina", "phishing", "http://example.test", 0},
	}
	for _, c := range cases {
		if _, err := reg.CreateRoom(ctx, c.name, c.parentwork, c.url, c.minutes); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", c, err)
		}
	}
}

func TestJoinRoom(t *testing.T) {
	reg, ros, _, _ := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)

	room, err := reg.JoinRoom(ctx, "Bob", code)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if room.Parentwork != "phishing" || room.TargetURL != "http://example.test" {
		t.Fatalf("join should return the room snapshot, got %+v", room)
	}

	players, _ := ros.Players(ctx, code)
	if len(players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(players))
	}
	bob := players["Bob"]
	if bob.Stage != 0 || bob.Completed || bob.IsHost {
		t.Fatalf("unexpected joined record: %+v", bob)
	}
}

func TestJoinRoomNormalizesCode(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)
	lower := "  " + strings.ToLower(code) + " "
	if _, err := reg.JoinRoom(ctx, "Bob", lower); err != nil {
		t.Fatalf("join with lowercase code: %v", err)
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	if _, err := reg.JoinRoom(context.Background(), "Bob", "NOPE42"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestJoinRoomAlreadyPlaying(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)
	if err := reg.StartRoom(ctx, code); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := reg.JoinRoom(ctx, "Bob", code); !errors.Is(err, ErrRoomPlaying) {
		t.Fatalf("expected ErrRoomPlaying, got %v", err)
	}
}

func TestJoinRoomDuplicateName(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)
	if _, err := reg.JoinRoom(ctx, "Aina", code); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken for host's name, got %v", err)
	}
	if _, err := reg.JoinRoom(ctx, "Bob", code); err != nil {
		t.Fatalf("first Bob join: %v", err)
	}
	if _, err := reg.JoinRoom(ctx, "Bob", code); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken for second Bob, got %v", err)
	}
}

func TestStartRoomStampsStartTime(t *testing.T) {
	reg, _, _, fc := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)
	if err := reg.StartRoom(ctx, code); err != nil {
		t.Fatalf("start: %v", err)
	}
	room, _ := reg.Room(ctx, code)
	if room.Status != StatusPlaying {
		t.Fatalf("expected playing, got %s", room.Status)
	}
	if room.StartTime != fc.Now().UnixMilli() {
		t.Fatalf("expected start time %d, got %d", fc.Now().UnixMilli(), room.StartTime)
	}
	// config fields survive the merge
	if room.Host != "Aina" || room.RaceTime != 5 {
		t.Fatalf("start should not clobber the room record: %+v", room)
	}
}

func TestDeleteRoom(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)
	if err := reg.DeleteRoom(ctx, code); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Room(ctx, code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestSubscribeRoomReportsVanished(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()

	code, _ := reg.CreateRoom(ctx, "Aina", "phishing", "http://example.test", 5)

	var vanishes int
	cancel := reg.SubscribeRoom(code, func(room Room, vanished bool) {
		if vanished {
			vanishes++
		}
	})
	defer cancel()

	reg.DeleteRoom(ctx, code)
	if vanishes != 1 {
		t.Fatalf("expected 1 vanished notification, got %d", vanishes)
	}
}
