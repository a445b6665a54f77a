package models

import (
	"fmt"
	"time"
)

// ExecutionState represents one stage of the trade execution pipeline.
type ExecutionState string

const (
	// StateSelectingContract picks the contract from the live catalog.
	StateSelectingContract ExecutionState = "selecting_contract"
	// StatePlacingEntry submits the market entry order.
	StatePlacingEntry ExecutionState = "placing_entry"
	// StateAwaitingFill reads the realized fill price after a fixed pause.
	StateAwaitingFill ExecutionState = "awaiting_fill"
	// StateComputingExits derives stop-loss and target prices.
	StateComputingExits ExecutionState = "computing_exits"
	// StatePlacingStopLoss submits the protective stop order.
	StatePlacingStopLoss ExecutionState = "placing_stop_loss"
	// StatePlacingTarget submits the take-profit order.
	StatePlacingTarget ExecutionState = "placing_target"
	// StateDone is the successful terminal state.
	StateDone ExecutionState = "done"
	// StateFailed is the terminal state for failures before entry fill.
	StateFailed ExecutionState = "failed"
)

// StateTransition defines one legal edge in the execution pipeline.
type StateTransition struct {
	From        ExecutionState
	To          ExecutionState
	Condition   string
	Description string
}

// ValidTransitions enumerates every legal edge. Stages only move forward;
// the skip edges cover unconfigured protective sides and the case where no
// fill price could be read from either the order or the ticker. Failures
// after entry acceptance are absorbed into the result rather than
// transitioning to StateFailed.
var ValidTransitions = []StateTransition{
	{StateSelectingContract, StatePlacingEntry, "contract_selected", "Contract chosen from the catalog"},
	{StatePlacingEntry, StateAwaitingFill, "entry_accepted", "Entry order accepted by the exchange"},
	{StateAwaitingFill, StateComputingExits, "fill_price_read", "Fill price read or approximated from the ticker"},
	{StateAwaitingFill, StateDone, "fill_price_unknown", "No fill price available, protective orders skipped"},
	{StateComputingExits, StatePlacingStopLoss, "stop_loss_configured", "Stop-loss percentages supplied"},
	{StateComputingExits, StatePlacingTarget, "target_only", "Only target percentages supplied"},
	{StateComputingExits, StateDone, "no_exits_configured", "Neither protective side supplied"},
	{StatePlacingStopLoss, StatePlacingTarget, "target_configured", "Target percentages supplied"},
	{StatePlacingStopLoss, StateDone, "no_target", "No target side configured"},
	{StatePlacingTarget, StateDone, "target_stage_complete", "Target stage finished"},

	// Terminal failure edges. Only stages before entry acceptance abort
	// the execution.
	{StateSelectingContract, StateFailed, "", "Request invalid or no contract could be selected"},
	{StatePlacingEntry, StateFailed, "", "Entry order rejected or exchange unreachable"},
}

// StateMachine tracks one execution's progress through the pipeline.
type StateMachine struct {
	currentState   ExecutionState
	previousState  ExecutionState
	transitionTime time.Time
	history        []ExecutionState
}

// NewStateMachine creates a state machine positioned at contract selection.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:   StateSelectingContract,
		previousState:  StateSelectingContract,
		transitionTime: time.Now().UTC(),
		history:        []ExecutionState{StateSelectingContract},
	}
}

// GetCurrentState returns the current state.
func (sm *StateMachine) GetCurrentState() ExecutionState {
	return sm.currentState
}

// GetPreviousState returns the previous state.
func (sm *StateMachine) GetPreviousState() ExecutionState {
	return sm.previousState
}

// History returns the ordered list of states visited, including the
// current one.
func (sm *StateMachine) History() []ExecutionState {
	out := make([]ExecutionState, len(sm.history))
	copy(out, sm.history)
	return out
}

// IsTerminal reports whether the execution has finished.
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateDone || sm.currentState == StateFailed
}

// IsValidTransition checks whether moving to the given state under the
// given condition is legal from the current state.
func (sm *StateMachine) IsValidTransition(to ExecutionState, condition string) error {
	for _, t := range ValidTransitions {
		if t.From == sm.currentState && t.To == to && conditionMatches(t.Condition, condition) {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition %q",
		sm.currentState, to, condition)
}

// conditionMatches accepts an exact condition match, or any provided
// condition when the edge declares none.
func conditionMatches(required, provided string) bool {
	if required == "" {
		return true
	}
	return required == provided
}

// Transition moves to a new state after validating the edge.
func (sm *StateMachine) Transition(to ExecutionState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.history = append(sm.history, to)
	return nil
}

// TransitionTime returns when the last transition happened.
func (sm *StateMachine) TransitionTime() time.Time {
	return sm.transitionTime
}

// GetStateDescription returns a human-readable description of the current
// state for logs and notifications.
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateSelectingContract:
		return "Selecting contract from the exchange catalog"
	case StatePlacingEntry:
		return "Placing market entry order"
	case StateAwaitingFill:
		return "Reading entry fill price"
	case StateComputingExits:
		return "Computing stop-loss and target prices"
	case StatePlacingStopLoss:
		return "Placing stop-loss order"
	case StatePlacingTarget:
		return "Placing target order"
	case StateDone:
		return "Execution complete"
	case StateFailed:
		return "Execution failed before entry fill"
	default:
		return "Unknown state"
	}
}
