// Package race implements the shared room/session synchronization core of the
// breach-race game: room registry, player roster, the four-stage progress
// engine, standings resolution, and the per-client session lifecycle. All
// shared state lives in a store.Store tree; every mutation is observed by the
// other sessions through path subscriptions.
package race

import (
	"errors"
	"fmt"
	"time"

	"github.com/aqilh/breachrace/internal/store"
)

var (
	ErrValidation   = errors.New("missing required input")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomPlaying  = errors.New("race already started")
	ErrNameTaken    = errors.New("player name already taken")
	ErrNotHost      = errors.New("not host")
	ErrNotRacing    = errors.New("not racing")
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
)

// Room is one race's configuration, keyed by a short uppercase code.
type Room struct {
	Code       string `json:"code"`
	Host       string `json:"host"`
	Parentwork string `json:"parentwork"` // target category label
	TargetURL  string `json:"targetUrl"`
	RaceTime   int    `json:"raceTime"` // minutes
	Status     Status `json:"status"`
	CreatedAt  int64  `json:"createdAt"` // epoch millis
	StartTime  int64  `json:"startTime"` // epoch millis, zero until playing
}

// Player is one participant's shared progress record within a room, keyed by
// display name. FinishTime is meaningful only once Completed is true.
type Player struct {
	Name       string        `json:"name"`
	IsHost     bool          `json:"isHost"`
	Stage      int           `json:"stage"` // 0 = not started, 1-4 = active stage
	Completed  bool          `json:"completed"`
	FinishTime time.Duration `json:"finishTime"` // elapsed from race start
}

func roomPath(code string) string    { return "rooms/" + code }
func playersPath(code string) string { return "rooms/" + code + "/players" }
func playerPath(code, name string) string {
	return fmt.Sprintf("rooms/%s/players/%s", code, name)
}

func (r Room) fields() store.Fields {
	f := store.Fields{
		"host":             r.Host,
		"targetParentwork": r.Parentwork,
		"targetUrl":        r.TargetURL,
		"raceTime":         int64(r.RaceTime),
		"status":           string(r.Status),
		"createdAt":        r.CreatedAt,
	}
	if r.StartTime != 0 {
		f["startTime"] = r.StartTime
	}
	return f
}

func (p Player) fields() store.Fields {
	var finish any
	if p.Completed {
		finish = p.FinishTime.Milliseconds()
	}
	return store.Fields{
		"name":       p.Name,
		"isHost":     p.IsHost,
		"stage":      int64(p.Stage),
		"completed":  p.Completed,
		"finishTime": finish,
	}
}

func roomFromSnapshot(code string, snap any) (Room, bool) {
	rec, ok := snap.(map[string]any)
	if !ok {
		return Room{}, false
	}
	return Room{
		Code:       code,
		Host:       asString(rec["host"]),
		Parentwork: asString(rec["targetParentwork"]),
		TargetURL:  asString(rec["targetUrl"]),
		RaceTime:   int(asInt64(rec["raceTime"])),
		Status:     Status(asString(rec["status"])),
		CreatedAt:  asInt64(rec["createdAt"]),
		StartTime:  asInt64(rec["startTime"]),
	}, true
}

func playerFromSnapshot(snap any) (Player, bool) {
	rec, ok := snap.(map[string]any)
	if !ok {
		return Player{}, false
	}
	return Player{
		Name:       asString(rec["name"]),
		IsHost:     asBool(rec["isHost"]),
		Stage:      int(asInt64(rec["stage"])),
		Completed:  asBool(rec["completed"]),
		FinishTime: time.Duration(asInt64(rec["finishTime"])) * time.Millisecond,
	}, true
}

// playersFromSnapshot tolerates a nil snapshot: an empty roster is a valid
// state, not an error.
func playersFromSnapshot(snap any) map[string]Player {
	out := make(map[string]Player)
	set, ok := snap.(map[string]any)
	if !ok {
		return out
	}
	for name, v := range set {
		if p, ok := playerFromSnapshot(v); ok {
			out[name] = p
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
