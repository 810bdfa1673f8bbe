package race

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Stage numbers of the fixed linear sequence.
const (
	StageParentwork = 1 // identify the target category
	StageDiscovery  = 2 // discovery terminal
	StageAddon      = 3 // enhancement selection
	StageAttack     = 4 // execution terminal
)

// Scripted pacing delays. They are gameplay, not incidental sleeps, so they
// are named and scheduled on the engine clock.
const (
	ScanDelay   = 2 * time.Second        // discovery scan before the address is reported
	RevealDelay = 1 * time.Second        // address reveal before the next stage opens
	BreachDelay = 2 * time.Second        // launch before the breach is confirmed
	FinishDelay = 1500 * time.Millisecond // breach confirmation before completion
)

// AddonNone is the enhancement option with no cross-player effect.
const AddonNone = "none"

// Sink receives the engine's shared-state transitions and its asynchronous
// terminal output. Stage gates are evaluated entirely on this client; the
// sink is the seam where a trusted arbiter could be swapped in.
type Sink interface {
	StageAdvanced(stage int)
	Completed()
	TerminalOutput(lines ...string)
}

type discoveryState struct {
	parentwork bool
	url        bool
}

type attackState struct {
	rules      bool
	ip         bool
	parentwork bool
	addon      bool
	configured bool
	launched   bool
}

// Engine advances one player through the four stages. Within-stage command
// parsing is local; every stage transition is pushed through the Sink.
type Engine struct {
	clock  clockwork.Clock
	sink   Sink
	target Room

	mu            sync.Mutex
	stage         int
	done          bool
	detectedAddr  string
	selectedAddon string
	disc          discoveryState
	atk           attackState
}

func NewEngine(target Room, clock clockwork.Clock, sink Sink) *Engine {
	return &Engine{clock: clock, sink: sink, target: target, stage: StageParentwork}
}

func (e *Engine) Stage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

func (e *Engine) DetectedAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detectedAddr
}

// Abort stops any pending timed transition from taking effect.
func (e *Engine) Abort() {
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
}

// SelectParentwork is the stage-1 gate: the choice must match the room's
// target category. A mismatch clears the selection; the player may retry
// without limit.
func (e *Engine) SelectParentwork(choice string) bool {
	e.mu.Lock()
	if e.done || e.stage != StageParentwork {
		e.mu.Unlock()
		return false
	}
	if choice != e.target.Parentwork {
		e.mu.Unlock()
		return false
	}
	e.stage = StageDiscovery
	e.mu.Unlock()

	e.sink.StageAdvanced(StageDiscovery)
	return true
}

// ExecDiscovery interprets one stage-2 terminal command and returns the
// output lines. The find command requires both set commands to have been
// issued first; violations report an error line but never block a retry.
func (e *Engine) ExecDiscovery(cmd string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.stage != StageDiscovery {
		return nil
	}

	lines := []string{"$ " + cmd}
	c := strings.ToLower(strings.TrimSpace(cmd))
	switch {
	case strings.Contains(c, "parentwork ="):
		e.disc.parentwork = true
		lines = append(lines, "parentwork set: "+e.target.Parentwork)
	case strings.Contains(c, "url ="):
		e.disc.url = true
		lines = append(lines, "url set: "+e.target.TargetURL)
	case strings.Contains(c, "find.ip.url.parent()"):
		if !e.disc.parentwork || !e.disc.url {
			lines = append(lines, "error: set parentwork and url first")
			break
		}
		e.detectedAddr = randomAddress()
		addr := e.detectedAddr
		lines = append(lines, "scanning...")
		e.schedule(ScanDelay, func() {
			e.sink.TerminalOutput("address found: " + addr)
			e.schedule(RevealDelay, func() {
				e.advanceTo(StageAddon)
			})
		})
	default:
		lines = append(lines, "unknown command")
	}
	return lines
}

// SelectAddon is the stage-3 choice. Any option passes; a non-none addon
// triggers the cross-player effect hook.
func (e *Engine) SelectAddon(addon string) bool {
	e.mu.Lock()
	if e.done || e.stage != StageAddon {
		e.mu.Unlock()
		return false
	}
	e.selectedAddon = addon
	e.stage = StageAttack
	e.mu.Unlock()

	if addon != AddonNone {
		e.applyAddonEffects(addon)
	}
	e.sink.StageAdvanced(StageAttack)
	return true
}

// applyAddonEffects would sabotage the other players' sessions. The effect is
// an extension hook, logged only.
func (e *Engine) applyAddonEffects(addon string) {
	log.Info().Str("addon", addon).Msg("addon activated")
}

// ExecAttack interprets one stage-4 terminal command. The gates run in strict
// order: four set commands, configure (needs all four sets), launch (needs
// configure), confirm (needs launch and the addon set). Every violation is
// reported but retryable. The final confirm completes the player after the
// breach delay sequence.
func (e *Engine) ExecAttack(cmd string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.stage != StageAttack {
		return nil
	}

	lines := []string{"$ " + cmd}
	c := strings.ToLower(strings.TrimSpace(cmd))
	switch {
	case strings.Contains(c, "rules = down"):
		e.atk.rules = true
		lines = append(lines, "rules set to down")
	case strings.Contains(c, "ip ="):
		e.atk.ip = true
		lines = append(lines, "ip configured: "+e.detectedAddr)
	case strings.Contains(c, "parentwork ="):
		e.atk.parentwork = true
		lines = append(lines, "parentwork configured: "+e.target.Parentwork)
	case strings.Contains(c, "addon ="):
		e.atk.addon = true
		lines = append(lines, "addon loaded: "+e.selectedAddon)
	case strings.Contains(c, "choose.rules_in.ip_pw.parentwork()"):
		if !e.atk.rules || !e.atk.ip || !e.atk.parentwork || !e.atk.addon {
			lines = append(lines, "error: set rules, ip, parentwork and addon first")
			break
		}
		e.atk.configured = true
		lines = append(lines, "attack vector configured")
	case strings.Contains(c, "start all()"):
		if !e.atk.configured {
			lines = append(lines, "error: configure the attack vector first")
			break
		}
		e.atk.launched = true
		lines = append(lines, "initiating attack...")
	case strings.Contains(c, "started addon"):
		if !e.atk.launched || !e.atk.addon {
			lines = append(lines, "error: complete all steps first")
			break
		}
		lines = append(lines, "attack launched", "breaching security...")
		e.schedule(BreachDelay, func() {
			e.sink.TerminalOutput("breach successful")
			e.schedule(FinishDelay, func() {
				e.finish()
			})
		})
	default:
		lines = append(lines, "unknown command")
	}
	return lines
}

func (e *Engine) advanceTo(stage int) {
	e.mu.Lock()
	if e.done || stage <= e.stage {
		e.mu.Unlock()
		return
	}
	e.stage = stage
	e.mu.Unlock()

	e.sink.StageAdvanced(stage)
}

func (e *Engine) finish() {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.mu.Unlock()

	e.sink.Completed()
}

func (e *Engine) schedule(d time.Duration, fn func()) {
	t := e.clock.NewTimer(d)
	go func() {
		<-t.Chan()
		e.mu.Lock()
		stop := e.done
		e.mu.Unlock()
		if !stop {
			fn()
		}
	}()
}

// randomAddress fabricates the discovered address: four octets, each 0-254.
func randomAddress() string {
	return fmt.Sprintf("%d.%d.%d.%d", rand.Intn(255), rand.Intn(255), rand.Intn(255), rand.Intn(255))
}
