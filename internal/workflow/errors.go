package workflow

import "fmt"

// ValidationError indicates a missing or invalid required field. The caller
// can re-prompt; no mutation has occurred.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// AuthorizationError indicates the acting role does not match the stage's
// required role, or an actor touched a record they do not own.
type AuthorizationError struct {
	Role         string
	RequiredRole string
	Stage        int
}

func (e AuthorizationError) Error() string {
	if e.RequiredRole == "" {
		return fmt.Sprintf("role %s is not permitted to perform this action", e.Role)
	}
	return fmt.Sprintf("stage %d requires role %s, acting role is %s", e.Stage, e.RequiredRole, e.Role)
}

// StaleStateError indicates the application moved between read and write; the
// caller must re-fetch and decide whether to retry.
type StaleStateError struct {
	ApplicationID string
	Stage         int
	Status        string
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("application %s changed concurrently (now stage %d, status %s); re-fetch and retry",
		e.ApplicationID, e.Stage, e.Status)
}
