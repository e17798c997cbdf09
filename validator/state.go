package validator

// State is a transaction's position in the pipeline's state machine (spec
// §4.7: "Submitted -> Unverified -> (verified) -> Verified -> (packed) ->
// Packed -> (committed) -> Confirmed", with terminal Rejected from any
// pre-Verified step and terminal Poison from repeated post-Verified
// failures).
type State string

const (
	StateSubmitted State = "Submitted"
	StateUnverified State = "Unverified"
	StateVerified   State = "Verified"
	StatePacked     State = "Packed"
	StateConfirmed  State = "Confirmed"
	StateRejected   State = "Rejected"
	StatePoison     State = "Poison"
)
