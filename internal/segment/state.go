// Package segment decides, turn by turn, whether a speaker turn belongs to
// a POI and hands accepted turns to the clip writer. Each turn walks an
// explicit state machine so every step can be observed and tested.
package segment

import (
	"errors"
	"fmt"
	"slices"

	"github.com/maauso/poiclip/internal/diarize"
)

// State is the processing state of a single turn.
type State string

const (
	// StatePending is the state of a turn that has not been looked at.
	StatePending State = "PENDING"
	// StateFiltered marks a turn shorter than the minimum segment length.
	// No extraction, scoring or write happened.
	StateFiltered State = "FILTERED"
	// StateExtracted indicates the audio range (and frame, if any) is on disk.
	StateExtracted State = "EXTRACTED"
	// StateScored indicates both modalities produced a verdict.
	StateScored State = "SCORED"
	// StateDecided indicates the fusion policy has run. A rejected turn
	// stops here, as does an accepted turn whose commit failed.
	StateDecided State = "DECIDED"
	// StateCommitted indicates the accepted turn was written to the POI folder.
	StateCommitted State = "COMMITTED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("segment: invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StatePending:   {StateFiltered, StateExtracted},
	StateFiltered:  {},
	StateExtracted: {StateScored},
	StateScored:    {StateDecided},
	StateDecided:   {StateCommitted},
	StateCommitted: {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Decision is the fusion verdict for a turn.
type Decision string

const (
	// DecisionNone is the decision of a turn that never reached DECIDED.
	DecisionNone Decision = ""
	// DecisionAccept keeps the turn.
	DecisionAccept Decision = "ACCEPT"
	// DecisionReject drops the turn.
	DecisionReject Decision = "REJECT"
)

// Evidence is what the matchers said about a turn.
type Evidence struct {
	// Score is the voice similarity score, zero when the clip was unscorable.
	Score float64
	// Voice is the voice matcher's same-speaker verdict.
	Voice bool
	// Face is the face matcher's verdict on the midpoint frame.
	Face bool
}

// Outcome is the result of processing one turn.
type Outcome struct {
	Turn     diarize.Turn
	State    State
	Decision Decision
	Evidence Evidence
	// Files are the committed audio clips.
	Files []string
	// Videos are the committed video clips.
	Videos []string
	// CommitErr is set when an accepted turn could not be written.
	CommitErr error
}

// TransitionTo moves the outcome to state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (o *Outcome) TransitionTo(state State) error {
	if !canTransition(o.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, state)
	}
	o.State = state
	return nil
}

// Accepted reports whether the turn was accepted, committed or not.
func (o Outcome) Accepted() bool {
	return o.Decision == DecisionAccept
}
