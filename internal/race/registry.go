package race

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/aqilh/breachrace/internal/store"
)

// DefaultCodeLength is the room code length when none is configured.
const DefaultCodeLength = 6

// Registry creates, validates, and destroys room records in the shared store.
type Registry struct {
	store   store.Store
	clock   clockwork.Clock
	codeLen int
}

func NewRegistry(st store.Store, clock clockwork.Clock, codeLen int) *Registry {
	if codeLen <= 0 {
		codeLen = DefaultCodeLength
	}
	return &Registry{store: st, clock: clock, codeLen: codeLen}
}

// CreateRoom writes a new waiting room and its host player record, returning
// the generated room code. Codes are random, not checked against live rooms.
func (rg *Registry) CreateRoom(ctx context.Context, hostName, parentwork, targetURL string, raceMinutes int) (string, error) {
	hostName = strings.TrimSpace(hostName)
	targetURL = strings.TrimSpace(targetURL)
	if hostName == "" || parentwork == "" || targetURL == "" || raceMinutes <= 0 {
		return "", ErrValidation
	}

	code := roomCode(rg.codeLen)
	room := Room{
		Code:       code,
		Host:       hostName,
		Parentwork: parentwork,
		TargetURL:  targetURL,
		RaceTime:   raceMinutes,
		Status:     StatusWaiting,
		CreatedAt:  rg.clock.Now().UnixMilli(),
	}
	if err := rg.store.Set(ctx, roomPath(code), room.fields()); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	host := Player{Name: hostName, IsHost: true}
	if err := rg.store.Set(ctx, playerPath(code, hostName), host.fields()); err != nil {
		// room record stays behind; not reconciled
		return "", fmt.Errorf("create host player: %w", err)
	}

	log.Info().Str("code", code).Str("host", hostName).Msg("room created")
	return code, nil
}

// JoinRoom validates the code and adds a player record for name. Joining a
// room past waiting fails with ErrRoomPlaying; a name already on the roster
// fails with ErrNameTaken.
func (rg *Registry) JoinRoom(ctx context.Context, playerName, code string) (Room, error) {
	playerName = strings.TrimSpace(playerName)
	code = strings.ToUpper(strings.TrimSpace(code))
	if playerName == "" || code == "" {
		return Room{}, ErrValidation
	}

	room, err := rg.Room(ctx, code)
	if err != nil {
		return Room{}, err
	}
	if room.Status == StatusPlaying {
		return Room{}, ErrRoomPlaying
	}

	existing, err := rg.store.Get(ctx, playerPath(code, playerName))
	if err != nil {
		return Room{}, fmt.Errorf("join room: %w", err)
	}
	if existing != nil {
		return Room{}, ErrNameTaken
	}

	p := Player{Name: playerName}
	if err := rg.store.Set(ctx, playerPath(code, playerName), p.fields()); err != nil {
		return Room{}, fmt.Errorf("join room: %w", err)
	}

	log.Info().Str("code", code).Str("player", playerName).Msg("player joined")
	return room, nil
}

// StartRoom flips the room to playing and stamps the start time. The caller
// is responsible for only invoking this from the host's session.
func (rg *Registry) StartRoom(ctx context.Context, code string) error {
	err := rg.store.Update(ctx, roomPath(code), store.Fields{
		"status":    string(StatusPlaying),
		"startTime": rg.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("start room: %w", err)
	}
	log.Info().Str("code", code).Msg("race started")
	return nil
}

// DeleteRoom removes the room record and everything under it.
func (rg *Registry) DeleteRoom(ctx context.Context, code string) error {
	if err := rg.store.Delete(ctx, roomPath(code)); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	log.Info().Str("code", code).Msg("room deleted")
	return nil
}

// Room reads the room record once, ErrRoomNotFound if absent.
func (rg *Registry) Room(ctx context.Context, code string) (Room, error) {
	snap, err := rg.store.Get(ctx, roomPath(code))
	if err != nil {
		return Room{}, fmt.Errorf("read room: %w", err)
	}
	room, ok := roomFromSnapshot(code, snap)
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return room, nil
}

// SubscribeRoom registers fn for room record snapshots. vanished is reported
// when the record is absent or deleted.
func (rg *Registry) SubscribeRoom(code string, fn func(room Room, vanished bool)) store.CancelFunc {
	return rg.store.Subscribe(roomPath(code), func(snap any) {
		room, ok := roomFromSnapshot(code, snap)
		fn(room, !ok)
	})
}

func roomCode(n int) string {
	letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
