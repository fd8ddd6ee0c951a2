// Package audit implements the audit trail core: the append-only writer with
// per-record integrity hashing, the filtered reader, and the integrity verifier.
// Audit records are intentionally separate from application logs — application
// logs are ephemeral debug output, while audit records are immutable electronic
// records subject to 21 CFR Part 11 and read back by auditors years later.
package audit

import "fmt"

// Action is the fixed enumeration of auditable actions. One shared type is
// used across every module so that EDMS, TRM, and login handlers cannot drift
// apart on spelling.
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionRead     Action = "READ"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionLogin    Action = "LOGIN"
	ActionLogout   Action = "LOGOUT"
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionSign     Action = "SIGN"
	ActionDownload Action = "DOWNLOAD"
)

// Actions lists every valid action in a stable order, used by the compliance
// reporter to zero-fill its action breakdown.
var Actions = []Action{
	ActionCreate, ActionRead, ActionUpdate, ActionDelete,
	ActionLogin, ActionLogout, ActionApprove, ActionReject,
	ActionSign, ActionDownload,
}

var validActions = func() map[Action]struct{} {
	m := make(map[Action]struct{}, len(Actions))
	for _, a := range Actions {
		m[a] = struct{}{}
	}
	return m
}()

// Valid reports whether a is a member of the action enumeration.
func (a Action) Valid() bool {
	_, ok := validActions[a]
	return ok
}

// ParseAction converts a string to an Action, rejecting values outside the
// enumeration. Query filters call this before any SQL runs so an invalid
// action is a validation error, not an empty result set.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}
