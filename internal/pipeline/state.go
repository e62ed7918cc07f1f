package pipeline

import (
	"fmt"
	"sync"
)

// State is a run state.
type State string

const (
	StateIdle            State = "idle"
	StateAcquired        State = "acquired"
	StateProbed          State = "probed"
	StateFramesExtracted State = "frames_extracted"
	StateMaskPrepared    State = "mask_prepared"
	StateInpainted       State = "inpainted"
	StateReconstructed   State = "reconstructed"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Event drives a transition.
type Event string

const (
	EventAcquire     Event = "acquire"
	EventProbe       Event = "probe"
	EventExtract     Event = "extract"
	EventPrepareMask Event = "prepare_mask"
	EventInpaint     Event = "inpaint"
	EventReconstruct Event = "reconstruct"
	EventFinish      Event = "finish"
	EventFail        Event = "fail"
)

// Transition is a single edge of the run machine.
type Transition struct {
	From  State
	Event Event
	To    State
}

// Transitions lists the happy path. EventFail is accepted from every
// non-terminal state.
var Transitions = []Transition{
	{StateIdle, EventAcquire, StateAcquired},
	{StateAcquired, EventProbe, StateProbed},
	{StateProbed, EventExtract, StateFramesExtracted},
	{StateFramesExtracted, EventPrepareMask, StateMaskPrepared},
	{StateMaskPrepared, EventInpaint, StateInpainted},
	{StateInpainted, EventReconstruct, StateReconstructed},
	{StateReconstructed, EventFinish, StateDone},
}

// Machine is a strict state machine: unknown transitions are errors.
type Machine struct {
	mu      sync.Mutex
	state   State
	index   map[string]State
	history []State
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	idx := make(map[string]State, len(Transitions))
	for _, t := range Transitions {
		idx[key(t.From, t.Event)] = t.To
	}
	return &Machine{state: StateIdle, index: idx, history: []State{StateIdle}}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state visited, starting with StateIdle.
func (m *Machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}

// Fire applies event and returns the new state.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	to, ok := m.index[key(from, event)]
	if event == EventFail && !from.Terminal() {
		to, ok = StateFailed, true
	}
	if !ok {
		return from, fmt.Errorf("invalid transition: state=%s event=%s", from, event)
	}
	m.state = to
	m.history = append(m.history, to)
	return to, nil
}

func key(from State, event Event) string {
	return string(from) + "|" + string(event)
}
