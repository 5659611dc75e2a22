// Package fsm provides a small finite state machine builder on top of looplab/fsm.
// file: internal/fsm/fsm.go
package fsm

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/logging"
	lfsm "github.com/looplab/fsm"
)

// State represents a state in the FSM.
type State string

// Event represents an event that can trigger a state transition.
type Event string

// TransitionAction runs after the machine has entered the destination state of a transition.
type TransitionAction func(ctx context.Context, event Event, data interface{}) error

// GuardCondition is checked before a transition; returning false cancels it.
type GuardCondition func(ctx context.Context, event Event, data interface{}) bool

// Transition defines a transition rule. An event may be listed once per source state, and
// every rule for the same event must share one destination.
type Transition struct {
	From      []State
	To        State
	Event     Event
	Action    TransitionAction
	Condition GuardCondition
}

// FSM is a built state machine.
type FSM interface {
	// CurrentState returns the current state.
	CurrentState() State
	// Is reports whether the machine is in state s.
	Is(s State) bool
	// CanTransition reports whether event is defined for the current state.
	CanTransition(event Event) bool
	// Transition fires event. Firing an event whose destination equals the current state is not an error.
	Transition(ctx context.Context, event Event, data interface{}) error
	// SetState forces the machine into state without running callbacks.
	SetState(state State)
}

// Builder accumulates transitions until Build is called.
type Builder struct {
	initial     State
	logger      logging.Logger
	transitions []Transition
	err         error
}

// NewBuilder starts a builder for a machine whose initial state is initial.
func NewBuilder(initial State, logger logging.Logger) *Builder {
	return &Builder{
		initial: initial,
		logger:  logging.OrNoop(logger).WithField("component", "fsm"),
	}
}

// AddTransition stores a transition definition. Configuration errors are reported by Build.
func (b *Builder) AddTransition(t Transition) *Builder {
	if b.err != nil {
		return b
	}
	if t.Event == "" {
		b.err = errors.New("transition definition missing event name")
		return b
	}
	if len(t.From) == 0 {
		b.err = errors.Newf("transition for event '%s' has no source states", t.Event)
		return b
	}
	b.transitions = append(b.transitions, t)
	return b
}

// Build validates the stored transitions and creates the machine.
func (b *Builder) Build() (FSM, error) {
	if b.err != nil {
		return nil, b.err
	}

	m := &machine{logger: b.logger, transitions: b.transitions}
	callbacks := make(lfsm.Callbacks)
	descs := make(map[Event]*lfsm.EventDesc)
	order := make([]Event, 0, len(b.transitions))

	for i := range b.transitions {
		t := b.transitions[i]
		desc, ok := descs[t.Event]
		if !ok {
			desc = &lfsm.EventDesc{Name: string(t.Event), Dst: string(t.To)}
			descs[t.Event] = desc
			order = append(order, t.Event)
		} else if desc.Dst != string(t.To) {
			return nil, errors.Newf("conflicting destinations ('%s' and '%s') for event '%s'", desc.Dst, t.To, t.Event)
		}
		for _, s := range t.From {
			if containsString(desc.Src, string(s)) {
				return nil, errors.Newf("event '%s' defined twice for source state '%s'", t.Event, s)
			}
			desc.Src = append(desc.Src, string(s))
		}
		if t.Condition != nil || t.Action != nil {
			callbacks["before_"+string(t.Event)] = m.guardCallback
			callbacks["after_"+string(t.Event)] = m.actionCallback
		}
	}

	events := make(lfsm.Events, 0, len(order))
	for _, ev := range order {
		events = append(events, *descs[ev])
	}

	m.fsm = lfsm.NewFSM(string(b.initial), events, callbacks)
	b.logger.Debug("FSM built.", "initialState", b.initial, "events", len(events))
	return m, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// machine implements FSM.
type machine struct {
	mu          sync.Mutex // serializes Transition so guard/action lookups see a stable source state.
	fsm         *lfsm.FSM
	logger      logging.Logger
	transitions []Transition
}

// ruleFor finds the transition rule matching an event fired from src.
func (m *machine) ruleFor(event, src string) *Transition {
	for i := range m.transitions {
		t := &m.transitions[i]
		if string(t.Event) != event {
			continue
		}
		for _, s := range t.From {
			if string(s) == src {
				return t
			}
		}
	}
	return nil
}

func eventData(e *lfsm.Event) interface{} {
	if len(e.Args) > 0 {
		return e.Args[0]
	}
	return nil
}

func (m *machine) guardCallback(ctx context.Context, e *lfsm.Event) {
	t := m.ruleFor(e.Event, e.Src)
	if t == nil || t.Condition == nil {
		return
	}
	if !t.Condition(ctx, t.Event, eventData(e)) {
		e.Cancel(errors.Newf("guard condition for event '%s' from state '%s' failed", t.Event, e.Src))
	}
}

func (m *machine) actionCallback(ctx context.Context, e *lfsm.Event) {
	t := m.ruleFor(e.Event, e.Src)
	if t == nil || t.Action == nil {
		return
	}
	if err := t.Action(ctx, t.Event, eventData(e)); err != nil {
		m.logger.Error("Transition action failed.", "event", e.Event, "from", e.Src, "to", e.Dst, "error", err)
	}
}

func (m *machine) CurrentState() State {
	return State(m.fsm.Current())
}

func (m *machine) Is(s State) bool {
	return m.fsm.Is(string(s))
}

func (m *machine) CanTransition(event Event) bool {
	return m.fsm.Can(string(event))
}

func (m *machine) Transition(ctx context.Context, event Event, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.fsm.Current()
	var args []interface{}
	if data != nil {
		args = append(args, data)
	}
	err := m.fsm.Event(ctx, string(event), args...)
	if err != nil {
		var noTransition lfsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		m.logger.Debug("FSM transition rejected.", "event", event, "state", from, "error", err)
		return errors.Wrapf(err, "transition '%s' from state '%s'", event, from)
	}
	m.logger.Debug("FSM transition.", "event", event, "from", from, "to", m.fsm.Current())
	return nil
}

func (m *machine) SetState(state State) {
	m.fsm.SetState(string(state))
}
