package actor

// System message types reserved per SPEC_FULL.md §6. The system posts these
// through Mailbox.PostSystemMessage; the prefix itself is not inspected, so
// a message sent through System.Send lands in the user queue whatever its
// Type.
const (
	SystemRestart = "$system.restart"
	SystemStop    = "$system.stop"
	SystemFailure = "$system.failure"
)

// RestartPayload is the payload of a $system.restart message.
type RestartPayload struct {
	Reason error
}

// FailurePayload is the payload of a $system.failure message (escalation).
type FailurePayload struct {
	Child PID
	Err   error
}
