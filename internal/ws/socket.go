package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	socketio "github.com/googollee/go-socket.io"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/aqilh/breachrace/internal/notify"
	"github.com/aqilh/breachrace/internal/race"
)

// ConnCtx is the per-connection state: one session per connected client.
type ConnCtx struct {
	Token   string
	Session *race.Session
}

type Server struct {
	reg   *race.Registry
	ros   *race.Roster
	clock clockwork.Clock
	pub   notify.Publisher
}

func New(reg *race.Registry, ros *race.Roster, clock clockwork.Clock, pub notify.Publisher) *Server {
	return &Server{reg: reg, ros: ros, clock: clock, pub: pub}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		em := &emitter{conn: s}
		sess := race.NewSession(srv.reg, srv.ros, srv.clock, em)
		em.sess = sess
		em.pub = srv.pub
		s.SetContext(&ConnCtx{Token: uuid.NewString(), Session: sess})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// room:create
	io.OnEvent("/", "room:create", func(s socketio.Conn, payload struct {
		HostName   string `json:"hostName"`
		Parentwork string `json:"parentwork"`
		TargetURL  string `json:"targetUrl"`
		RaceTime   int    `json:"raceTime"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		code, err := ctx.Session.Host(context.Background(), payload.HostName, payload.Parentwork, payload.TargetURL, payload.RaceTime)
		if err != nil {
			return srv.err(s, err)
		}
		srv.pub.RoomCreated(notify.RoomCreatedPayload{
			RoomCode:  code,
			Host:      payload.HostName,
			RaceTime:  payload.RaceTime,
			CreatedAt: srv.clock.Now().UTC(),
		})
		log.Info().Str("sid", s.ID()).Str("code", code).Msg("room:create")
		return map[string]any{"roomCode": code, "token": ctx.Token}
	})

	// room:join
	io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
		PlayerName string `json:"playerName"`
		RoomCode   string `json:"roomCode"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		room, err := ctx.Session.Join(context.Background(), payload.PlayerName, payload.RoomCode)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("sid", s.ID()).Str("code", room.Code).Str("player", payload.PlayerName).Msg("room:join")
		return map[string]any{
			"roomCode":   room.Code,
			"parentwork": room.Parentwork,
			"targetUrl":  room.TargetURL,
			"raceTime":   room.RaceTime,
			"token":      ctx.Token,
		}
	})

	// room:start (host)
	io.OnEvent("/", "room:start", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		code := ctx.Session.RoomCode()
		players, _ := srv.ros.Players(context.Background(), code)
		if err := ctx.Session.Start(context.Background()); err != nil {
			return srv.err(s, err)
		}
		srv.pub.RaceStarted(notify.RaceStartedPayload{
			RoomCode:  code,
			Players:   len(players),
			StartedAt: srv.clock.Now().UTC(),
		})
		return map[string]any{"ok": true}
	})

	// room:leave
	io.OnEvent("/", "room:leave", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if err := ctx.Session.Leave(context.Background()); err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"ok": true}
	})

	// stage:select — stage-1 category choice
	io.OnEvent("/", "stage:select", func(s socketio.Conn, payload struct {
		Parentwork string `json:"parentwork"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		ok, err := ctx.Session.SelectParentwork(payload.Parentwork)
		if err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"advanced": ok}
	})

	// terminal:exec — stage-2 discovery terminal
	io.OnEvent("/", "terminal:exec", func(s socketio.Conn, payload struct {
		Command string `json:"command"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		lines, err := ctx.Session.ExecDiscovery(payload.Command)
		if err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"lines": lines}
	})

	// addon:select — stage-3 enhancement choice
	io.OnEvent("/", "addon:select", func(s socketio.Conn, payload struct {
		Addon string `json:"addon"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		ok, err := ctx.Session.SelectAddon(payload.Addon)
		if err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"advanced": ok}
	})

	// attack:exec — stage-4 execution terminal
	io.OnEvent("/", "attack:exec", func(s socketio.Conn, payload struct {
		Command string `json:"command"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		lines, err := ctx.Session.ExecAttack(payload.Command)
		if err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"lines": lines}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Session != nil {
			ctx.Session.Close()
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// err surfaces a session error as a single user-visible notification; the
// client may retry the action, nothing is retried here.
func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := "store_failure"
	switch {
	case errors.Is(err, race.ErrValidation):
		code = "validation"
	case errors.Is(err, race.ErrRoomNotFound):
		code = "room_not_found"
	case errors.Is(err, race.ErrRoomPlaying):
		code = "room_already_playing"
	case errors.Is(err, race.ErrNameTaken):
		code = "name_taken"
	case errors.Is(err, race.ErrNotHost):
		code = "not_host"
	case errors.Is(err, race.ErrNotRacing):
		code = "not_racing"
	}
	log.Warn().Str("sid", s.ID()).Str("code", code).Err(err).Msg("request failed")
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": err.Error()}
}

// emitter adapts race.Events onto one socket connection.
type emitter struct {
	conn socketio.Conn
	sess *race.Session
	pub  notify.Publisher
}

func (e *emitter) LobbyPlayers(players []race.Player) {
	list := make([]map[string]any, 0, len(players))
	for _, p := range players {
		list = append(list, map[string]any{"name": p.Name, "isHost": p.IsHost})
	}
	e.conn.Emit("lobby:players", map[string]any{"players": list, "count": len(list)})
}

func (e *emitter) RaceStarted(room race.Room) {
	e.conn.Emit("race:started", map[string]any{
		"parentwork": room.Parentwork,
		"targetUrl":  room.TargetURL,
		"raceTime":   room.RaceTime,
	})
}

func (e *emitter) Standings(players []race.Player) {
	list := make([]map[string]any, 0, len(players))
	for _, p := range players {
		list = append(list, map[string]any{
			"name":      p.Name,
			"stage":     p.Stage,
			"completed": p.Completed,
		})
	}
	e.conn.Emit("race:standings", map[string]any{"players": list})
}

func (e *emitter) Tick(remaining time.Duration) {
	e.conn.Emit("race:tick", map[string]any{"remaining": int(remaining.Seconds())})
}

func (e *emitter) Finished(standings []race.Player) {
	list := make([]map[string]any, 0, len(standings))
	for _, p := range standings {
		list = append(list, map[string]any{"name": p.Name, "time": race.FormatFinishTime(p)})
	}
	out := map[string]any{"standings": list}
	if len(standings) > 0 {
		winner := standings[0]
		out["winner"] = winner.Name
		out["winnerTime"] = race.FormatFinishTime(winner)
		e.pub.RaceFinished(notify.RaceFinishedPayload{
			RoomCode:   e.sess.RoomCode(),
			Winner:     winner.Name,
			FinishTime: race.FormatFinishTime(winner),
			Players:    len(standings),
		})
	}
	e.conn.Emit("race:finished", out)
}

func (e *emitter) RoomClosed() {
	e.conn.Emit("room:closed", map[string]any{})
}

func (e *emitter) TerminalOutput(lines ...string) {
	e.conn.Emit("terminal:lines", map[string]any{"lines": lines})
}
