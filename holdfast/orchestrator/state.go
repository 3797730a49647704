package orchestrator

// State is a position in the update sequence.
type State int

const (
	StateStart State = iota
	StateUnheld
	StateSynced
	StateUpgraded
	StateReloaded
	StateHeld
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateUnheld:
		return "unheld"
	case StateSynced:
		return "synced"
	case StateUpgraded:
		return "upgraded"
	case StateReloaded:
		return "reloaded"
	case StateHeld:
		return "held"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Phase names one step of the sequence.
type Phase string

const (
	PhaseUnhold  Phase = "unhold"
	PhaseSync    Phase = "sync"
	PhaseUpgrade Phase = "upgrade"
	PhaseReload  Phase = "reload"
	PhaseHold    Phase = "hold"

	phaseDone Phase = ""
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseUnhold, PhaseSync, PhaseUpgrade, PhaseReload, PhaseHold}

type transition struct {
	// reached is the state entered when the phase succeeds.
	reached State
	// next is the phase run after success.
	next Phase
	// onFailure is the phase run after failure. phaseDone stops the run.
	onFailure Phase
}

// transitions is the whole control flow. Once the hold is lifted every path
// leads through PhaseHold.
var transitions = map[Phase]transition{
	PhaseUnhold:  {reached: StateUnheld, next: PhaseSync, onFailure: phaseDone},
	PhaseSync:    {reached: StateSynced, next: PhaseUpgrade, onFailure: PhaseHold},
	PhaseUpgrade: {reached: StateUpgraded, next: PhaseReload, onFailure: PhaseHold},
	PhaseReload:  {reached: StateReloaded, next: PhaseHold, onFailure: PhaseHold},
	PhaseHold:    {reached: StateHeld, next: phaseDone, onFailure: phaseDone},
}

// interruptible reports whether a pending termination signal skips the phase.
// The hold is never skipped.
func (p Phase) interruptible() bool {
	return p != PhaseHold
}
