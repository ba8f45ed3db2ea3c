package workflow

import (
	"fmt"
	"strings"

	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

// DefaultCompletionNote is attached when a ticket is resolved without any note.
const DefaultCompletionNote = "Work completed."

// Action names a command the state machine accepts.
type Action string

const (
	ActionAcknowledge Action = "acknowledge"
	ActionStart       Action = "start"
	ActionResolve     Action = "resolve"
	ActionReject      Action = "reject"
	ActionReassign    Action = "reassign"
)

// Actor identifies who issues a command.
type Actor struct {
	ID   string
	Role Role
}

// Command is a request to move a ticket through the state machine.
type Command struct {
	Action Action
	Actor  Actor
	// Note is the response text for start, resolve and reject.
	Note string
	// Resolver is the new assignee for reassign.
	Resolver string
	// FallbackNote replaces DefaultCompletionNote on resolve when set.
	FallbackNote string
}

// State is the subset of a ticket the state machine reads.
type State struct {
	Status           Status
	AssignedResolver string
	ResponseNote     string
}

// Change is the single-record write a command produces. Nil pointers mean "unchanged".
type Change struct {
	Status           *Status
	ResponseNote     *string
	AssignedResolver *string
}

// Noop reports whether the change writes nothing.
func (c Change) Noop() bool {
	return c.Status == nil && c.ResponseNote == nil && c.AssignedResolver == nil
}

// Columns renders the change as a column map for a single-row update.
func (c Change) Columns() map[string]any {
	cols := make(map[string]any, 3)
	if c.Status != nil {
		cols["status"] = string(*c.Status)
	}
	if c.ResponseNote != nil {
		cols["response_note"] = *c.ResponseNote
	}
	if c.AssignedResolver != nil {
		cols["assigned_resolver"] = *c.AssignedResolver
	}
	return cols
}

// Apply validates cmd against the current state and returns the resulting change.
// Checks run in order: role, required fields, then the transition graph.
func Apply(current State, cmd Command) (Change, error) {
	if err := authorize(cmd.Actor); err != nil {
		return Change{}, err
	}

	note := strings.TrimSpace(cmd.Note)

	switch cmd.Action {
	case ActionAcknowledge:
		// Repeated opens and opens of later states are no-ops.
		if current.Status != StatusSubmitted {
			return Change{}, nil
		}
		return Change{Status: statusPtr(StatusAcknowledged)}, nil

	case ActionStart:
		if current.Status != StatusSubmitted && current.Status != StatusAcknowledged {
			return Change{}, invalidTransition(current.Status, StatusInProgress)
		}
		change := Change{Status: statusPtr(StatusInProgress)}
		if note != "" {
			change.ResponseNote = &note
		}
		return change, nil

	case ActionResolve:
		if current.Status != StatusInProgress {
			return Change{}, invalidTransition(current.Status, StatusResolved)
		}
		change := Change{Status: statusPtr(StatusResolved)}
		switch {
		case note != "":
			change.ResponseNote = &note
		case strings.TrimSpace(current.ResponseNote) == "":
			fallback := strings.TrimSpace(cmd.FallbackNote)
			if fallback == "" {
				fallback = DefaultCompletionNote
			}
			change.ResponseNote = &fallback
		}
		return change, nil

	case ActionReject:
		if note == "" {
			return Change{}, apperrors.NewValidation("a rejection reason is required")
		}
		if current.Status.Terminal() {
			return Change{}, invalidTransition(current.Status, StatusRejected)
		}
		return Change{Status: statusPtr(StatusRejected), ResponseNote: &note}, nil

	case ActionReassign:
		resolver := strings.TrimSpace(cmd.Resolver)
		if resolver == "" {
			return Change{}, apperrors.NewValidation("a resolver is required for reassignment")
		}
		if current.Status.Terminal() {
			return Change{}, apperrors.ErrInvalidTransition.WithMessage(
				fmt.Sprintf("ticket is %s and can no longer be reassigned", current.Status))
		}
		if resolver == current.AssignedResolver {
			return Change{}, nil
		}
		return Change{AssignedResolver: &resolver}, nil

	default:
		return Change{}, apperrors.NewValidation(fmt.Sprintf("unknown action %q", cmd.Action))
	}
}

// Next returns the status a ticket would hold after applying change.
func Next(current Status, change Change) Status {
	if change.Status != nil {
		return *change.Status
	}
	return current
}

func authorize(actor Actor) error {
	switch actor.Role {
	case RoleResolver:
		return nil
	case RoleRequester:
		return apperrors.ErrAuthorization.WithMessage("requesters cannot change ticket status")
	default:
		return apperrors.ErrAuthorization.WithMessage("unknown role")
	}
}

func invalidTransition(from, to Status) error {
	return apperrors.ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot move ticket from %s to %s", from, to))
}

func statusPtr(s Status) *Status {
	return &s
}
