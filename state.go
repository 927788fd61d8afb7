package viva

// RunPhase is the session's run-state machine position.
type RunPhase string

const (
	// PhaseIdle means no agent run is active.
	PhaseIdle RunPhase = "idle"
	// PhaseRunning means exactly one agent run is active for this session.
	PhaseRunning RunPhase = "running"
	// PhaseInterrupted means a run was abandoned mid tool-call sequence and
	// has been observed but not yet healed.
	PhaseInterrupted RunPhase = "interrupted"
)

// RunState tracks whether an agent run is in progress for one session.
// Transitions: Idle -> Running on run start, Running -> Idle on clean
// completion, Running -> Interrupted observed retroactively when a new user
// action arrives while still running, Interrupted -> Idle once healing has
// been applied. There is never more than one active run per session.
type RunState struct {
	phase RunPhase
}

func NewRunState() *RunState {
	return &RunState{phase: PhaseIdle}
}

func (s *RunState) Phase() RunPhase {
	return s.phase
}

// InProgress reports whether a run is active or was abandoned without
// completing.
func (s *RunState) InProgress() bool {
	return s.phase != PhaseIdle
}

// Start moves Idle -> Running. It fails with ErrRunActive if a run is
// already in progress, which guards the one-run-per-session invariant.
func (s *RunState) Start() error {
	if s.phase != PhaseIdle {
		return ErrRunActive
	}
	s.phase = PhaseRunning
	return nil
}

// Finish moves the state back to Idle after a run returns.
func (s *RunState) Finish() {
	s.phase = PhaseIdle
}

// observeInterruption marks a stale running state as interrupted. Called by
// the healer when a new user action finds the previous run still flagged.
func (s *RunState) observeInterruption() {
	if s.phase == PhaseRunning {
		s.phase = PhaseInterrupted
	}
}

// settle moves Interrupted -> Idle once healing is done. Resetting here,
// inside the healing step itself, is what keeps healing idempotent under
// rapid repeated invocations.
func (s *RunState) settle() {
	s.phase = PhaseIdle
}
