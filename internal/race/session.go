package race

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/aqilh/breachrace/internal/store"
)

// State is the local lifecycle of one client's session.
type State string

const (
	StateLanding State = "Landing"
	StateLobby   State = "Lobby"
	StateRacing  State = "Racing"
	StateResults State = "Results"
)

// Events is everything a session surfaces to its client view. Implementations
// must tolerate being called from store-notification goroutines.
type Events interface {
	// LobbyPlayers delivers the full roster while waiting for the start.
	LobbyPlayers(players []Player)
	// RaceStarted fires when the room flips to playing.
	RaceStarted(room Room)
	// Standings delivers the current ordering on every roster change while racing.
	Standings(players []Player)
	// Tick fires once per second with the remaining race time.
	Tick(remaining time.Duration)
	// Finished delivers the final standings once every player has completed.
	Finished(standings []Player)
	// RoomClosed fires when the room record vanishes under the session.
	RoomClosed()
	// TerminalOutput delivers asynchronous terminal lines from timed steps.
	TerminalOutput(lines ...string)
}

// Session owns one client's identity (room code, name, host flag), its local
// puzzle state, and every store subscription it acquires. Subscriptions are
// scoped resources: released on leave, on room loss, and on Close.
type Session struct {
	registry *Registry
	roster   *Roster
	clock    clockwork.Clock
	events   Events

	mu        sync.Mutex
	state     State
	roomCode  string
	name      string
	isHost    bool
	room      Room
	engine    *Engine
	startAt   time.Time
	subs      []store.CancelFunc
	stopTimer chan struct{}
	finished  bool
}

func NewSession(reg *Registry, ros *Roster, clock clockwork.Clock, ev Events) *Session {
	return &Session{registry: reg, roster: ros, clock: clock, events: ev, state: StateLanding}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHost
}

// Host creates a room and enters the lobby as its host.
func (s *Session) Host(ctx context.Context, name, parentwork, targetURL string, raceMinutes int) (string, error) {
	if s.State() != StateLanding {
		return "", ErrValidation
	}
	code, err := s.registry.CreateRoom(ctx, name, parentwork, targetURL, raceMinutes)
	if err != nil {
		return "", err
	}
	room, err := s.registry.Room(ctx, code)
	if err != nil {
		return "", err
	}
	s.enterLobby(room, name, true)
	return code, nil
}

// Join adds the session to an existing waiting room.
func (s *Session) Join(ctx context.Context, name, code string) (Room, error) {
	if s.State() != StateLanding {
		return Room{}, ErrValidation
	}
	room, err := s.registry.JoinRoom(ctx, name, code)
	if err != nil {
		return Room{}, err
	}
	s.enterLobby(room, name, false)
	return room, nil
}

func (s *Session) enterLobby(room Room, name string, host bool) {
	s.mu.Lock()
	s.state = StateLobby
	s.room = room
	s.roomCode = room.Code
	s.name = name
	s.isHost = host
	s.finished = false
	s.mu.Unlock()

	// one roster subscription serves lobby and race; behavior follows state
	rosterCancel := s.roster.Subscribe(room.Code, s.onPlayers)
	roomCancel := s.registry.SubscribeRoom(room.Code, s.onRoom)

	s.mu.Lock()
	s.subs = append(s.subs, rosterCancel, roomCancel)
	s.mu.Unlock()
}

// Start flips the room to playing. Host only; every session, including the
// host's, transitions to Racing via its own room subscription.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	host, code, state := s.isHost, s.roomCode, s.state
	s.mu.Unlock()
	if state != StateLobby {
		return ErrValidation
	}
	if !host {
		return ErrNotHost
	}
	return s.registry.StartRoom(ctx, code)
}

// Leave removes the session's own player record and, for the host, the whole
// room. It always releases the session's subscriptions first so the session
// does not observe its own teardown.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLanding {
		s.mu.Unlock()
		return nil
	}
	code, name, host := s.roomCode, s.name, s.isHost
	s.mu.Unlock()

	s.teardown()

	if host {
		if err := s.roster.RemoveAll(ctx, code); err != nil {
			log.Error().Err(err).Str("code", code).Msg("leave: remove players")
		}
		if err := s.registry.DeleteRoom(ctx, code); err != nil {
			return err
		}
		return nil
	}
	return s.roster.Remove(ctx, code, name)
}

// Close releases every resource without touching shared state, for use when
// the client connection drops.
func (s *Session) Close() {
	s.teardown()
}

// SelectParentwork forwards the stage-1 choice to the engine.
func (s *Session) SelectParentwork(choice string) (bool, error) {
	eng, err := s.racingEngine()
	if err != nil {
		return false, err
	}
	return eng.SelectParentwork(choice), nil
}

// ExecDiscovery forwards one stage-2 terminal command.
func (s *Session) ExecDiscovery(cmd string) ([]string, error) {
	eng, err := s.racingEngine()
	if err != nil {
		return nil, err
	}
	return eng.ExecDiscovery(cmd), nil
}

// SelectAddon forwards the stage-3 choice.
func (s *Session) SelectAddon(addon string) (bool, error) {
	eng, err := s.racingEngine()
	if err != nil {
		return false, err
	}
	return eng.SelectAddon(addon), nil
}

// ExecAttack forwards one stage-4 terminal command.
func (s *Session) ExecAttack(cmd string) ([]string, error) {
	eng, err := s.racingEngine()
	if err != nil {
		return nil, err
	}
	return eng.ExecAttack(cmd), nil
}

func (s *Session) racingEngine() (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRacing || s.engine == nil {
		return nil, ErrNotRacing
	}
	return s.engine, nil
}

// onRoom reacts to room record snapshots: the playing flip starts the local
// race, a vanished record routes the session back to Landing.
func (s *Session) onRoom(room Room, vanished bool) {
	if vanished {
		s.mu.Lock()
		gone := s.state != StateLanding
		name := s.name
		s.mu.Unlock()
		if gone {
			log.Info().Str("player", name).Msg("room vanished")
			s.teardown()
			s.events.RoomClosed()
		}
		return
	}

	s.mu.Lock()
	if s.state != StateLobby || room.Status != StatusPlaying {
		s.mu.Unlock()
		return
	}
	s.state = StateRacing
	s.room = room
	s.startAt = s.clock.Now()
	s.engine = NewEngine(room, s.clock, (*progressSink)(s))
	stop := make(chan struct{})
	s.stopTimer = stop
	duration := time.Duration(room.RaceTime) * time.Minute
	s.mu.Unlock()

	s.events.RaceStarted(room)
	go s.countdown(duration, stop)
}

// onPlayers reacts to roster snapshots according to the local state. Each
// snapshot is a full-state replacement.
func (s *Session) onPlayers(players map[string]Player) {
	switch s.State() {
	case StateLobby:
		s.events.LobbyPlayers(Standings(players))
	case StateRacing:
		ordered := Standings(players)
		s.events.Standings(ordered)
		if Finished(players) {
			s.mu.Lock()
			first := !s.finished
			s.finished = true
			s.state = StateResults
			stop := s.stopTimer
			s.stopTimer = nil
			s.mu.Unlock()
			if first {
				if stop != nil {
					close(stop)
				}
				s.events.Finished(ordered)
			}
		}
	}
}

// countdown runs the shared race timer. It is independent of the finished
// condition; on expiry it force-completes the local player regardless of the
// stage reached.
func (s *Session) countdown(duration time.Duration, stop chan struct{}) {
	deadline := s.clock.Now().Add(duration)
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			remaining := deadline.Sub(s.clock.Now())
			if remaining < 0 {
				remaining = 0
			}
			s.events.Tick(remaining)
			if remaining == 0 {
				log.Info().Msg("race time expired")
				s.forceComplete()
				return
			}
		}
	}
}

func (s *Session) forceComplete() {
	s.mu.Lock()
	code, name := s.roomCode, s.name
	elapsed := s.clock.Now().Sub(s.startAt)
	if s.engine != nil {
		s.engine.Abort()
	}
	s.mu.Unlock()
	if err := s.roster.MarkCompleted(context.Background(), code, name, elapsed); err != nil {
		log.Error().Err(err).Str("player", name).Msg("force complete")
	}
}

// teardown cancels subscriptions, stops the timer, and resets identity. Safe
// on every exit path.
func (s *Session) teardown() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	stop := s.stopTimer
	s.stopTimer = nil
	if s.engine != nil {
		s.engine.Abort()
		s.engine = nil
	}
	s.state = StateLanding
	s.roomCode, s.name, s.isHost = "", "", false
	s.room = Room{}
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	if stop != nil {
		close(stop)
	}
}

// progressSink pushes engine transitions into the shared roster. Stage
// reaching 2, 3, 4 and completion are shared state; everything else stays
// local to the engine.
type progressSink Session

func (ps *progressSink) StageAdvanced(stage int) {
	s := (*Session)(ps)
	s.mu.Lock()
	code, name := s.roomCode, s.name
	s.mu.Unlock()
	if err := s.roster.UpdateProgress(context.Background(), code, name, stage); err != nil {
		log.Error().Err(err).Str("player", name).Int("stage", stage).Msg("push progress")
	}
}

func (ps *progressSink) Completed() {
	s := (*Session)(ps)
	s.mu.Lock()
	code, name := s.roomCode, s.name
	elapsed := s.clock.Now().Sub(s.startAt)
	s.mu.Unlock()
	if err := s.roster.MarkCompleted(context.Background(), code, name, elapsed); err != nil {
		log.Error().Err(err).Str("player", name).Msg("push completion")
	}
}

func (ps *progressSink) TerminalOutput(lines ...string) {
	(*Session)(ps).events.TerminalOutput(lines...)
}
