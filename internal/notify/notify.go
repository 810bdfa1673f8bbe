// Package notify publishes room lifecycle events for external observers
// (dashboards, ops tooling). Publishing is best-effort: a failed publish is
// logged and the game carries on.
package notify

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	SubjectRoomCreated  = "breachrace.room.created"
	SubjectRaceStarted  = "breachrace.race.started"
	SubjectRaceFinished = "breachrace.race.finished"
)

// RoomCreatedPayload is the payload for a room.created event.
type RoomCreatedPayload struct {
	RoomCode  string    `json:"room_code"`
	Host      string    `json:"host"`
	RaceTime  int       `json:"race_time_min"`
	CreatedAt time.Time `json:"created_at"`
}

// RaceStartedPayload is the payload for a race.started event.
type RaceStartedPayload struct {
	RoomCode  string    `json:"room_code"`
	Players   int       `json:"players"`
	StartedAt time.Time `json:"started_at"`
}

// RaceFinishedPayload is the payload for a race.finished event.
type RaceFinishedPayload struct {
	RoomCode   string `json:"room_code"`
	Winner     string `json:"winner"`
	FinishTime string `json:"finish_time"`
	Players    int    `json:"players"`
}

// Publisher fans lifecycle events out to whoever listens.
type Publisher interface {
	RoomCreated(p RoomCreatedPayload)
	RaceStarted(p RaceStartedPayload)
	RaceFinished(p RaceFinishedPayload)
	Close()
}

// Nop is the Publisher used when no broker is configured.
type Nop struct{}

func (Nop) RoomCreated(RoomCreatedPayload)   {}
func (Nop) RaceStarted(RaceStartedPayload)   {}
func (Nop) RaceFinished(RaceFinishedPayload) {}
func (Nop) Close()                           {}

// NATS publishes events as JSON to a NATS broker.
type NATS struct {
	conn *nats.Conn
}

func Connect(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("breachrace"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", url).Msg("connected to nats")
	return &NATS{conn: conn}, nil
}

func (n *NATS) RoomCreated(p RoomCreatedPayload)   { n.publish(SubjectRoomCreated, p) }
func (n *NATS) RaceStarted(p RaceStartedPayload)   { n.publish(SubjectRaceStarted, p) }
func (n *NATS) RaceFinished(p RaceFinishedPayload) { n.publish(SubjectRaceFinished, p) }

func (n *NATS) Close() {
	n.conn.Drain()
}

func (n *NATS) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal event")
		return
	}
	if err := n.conn.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("publish event")
	}
}
