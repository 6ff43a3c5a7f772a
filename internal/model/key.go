package model

// Phase is a key transition as named on the wire.
type Phase string

const (
	PhaseDown Phase = "keydown"
	PhaseUp   Phase = "keyup"
)

// KeyEvent is one captured key transition. Sequence is assigned at capture
// time and increases strictly within a capture session.
type KeyEvent struct {
	Code     string
	Phase    Phase
	Sequence uint64
}
