package race

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aqilh/breachrace/internal/store"
)

// Roster maintains the player records under one room. Each callback delivers
// the entire current set, never a diff; an empty map is a valid state.
type Roster struct {
	store store.Store
}

func NewRoster(st store.Store) *Roster {
	return &Roster{store: st}
}

// Subscribe registers fn for full player-set snapshots of the room. It fires
// once immediately with the current set.
func (ro *Roster) Subscribe(code string, fn func(players map[string]Player)) store.CancelFunc {
	return ro.store.Subscribe(playersPath(code), func(snap any) {
		fn(playersFromSnapshot(snap))
	})
}

// Players reads the current set once.
func (ro *Roster) Players(ctx context.Context, code string) (map[string]Player, error) {
	snap, err := ro.store.Get(ctx, playersPath(code))
	if err != nil {
		return nil, fmt.Errorf("read players: %w", err)
	}
	return playersFromSnapshot(snap), nil
}

// UpdateProgress merges a new stage into the player's record. Stage is
// monotonic while the player is incomplete: a lower or equal stage, or any
// write after completion, is dropped.
func (ro *Roster) UpdateProgress(ctx context.Context, code, name string, stage int) error {
	cur, err := ro.player(ctx, code, name)
	if err != nil {
		return err
	}
	if cur.Completed || stage <= cur.Stage {
		log.Debug().Str("code", code).Str("player", name).Int("stage", stage).Msg("progress write dropped")
		return nil
	}
	err = ro.store.Update(ctx, playerPath(code, name), store.Fields{"stage": int64(stage)})
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkCompleted sets the completion flag and finish time. The first
// completion wins; later calls are dropped.
func (ro *Roster) MarkCompleted(ctx context.Context, code, name string, finish time.Duration) error {
	cur, err := ro.player(ctx, code, name)
	if err != nil {
		return err
	}
	if cur.Completed {
		return nil
	}
	err = ro.store.Update(ctx, playerPath(code, name), store.Fields{
		"completed":  true,
		"finishTime": finish.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	log.Info().Str("code", code).Str("player", name).Dur("finish", finish).Msg("player completed")
	return nil
}

// Remove deletes one player's record.
func (ro *Roster) Remove(ctx context.Context, code, name string) error {
	if err := ro.store.Delete(ctx, playerPath(code, name)); err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	return nil
}

// RemoveAll deletes the whole player set, used by the host on leave so no
// records are orphaned under a deleted room.
func (ro *Roster) RemoveAll(ctx context.Context, code string) error {
	if err := ro.store.Delete(ctx, playersPath(code)); err != nil {
		return fmt.Errorf("remove players: %w", err)
	}
	return nil
}

func (ro *Roster) player(ctx context.Context, code, name string) (Player, error) {
	snap, err := ro.store.Get(ctx, playerPath(code, name))
	if err != nil {
		return Player{}, fmt.Errorf("read player: %w", err)
	}
	p, _ := playerFromSnapshot(snap)
	return p, nil
}
