package wire

// Fault is a transportable error: a message, the stack captured at
// construction time and an ordered list of causes. It is pre-registered in
// every `Scope`, so it round-trips between any two peers, and it is a
// convenient base for richer error types since it already carries the
// capabilities the codec restores.
//
// Causes stay unexported on purpose: they travel as first-class nodes of the
// envelope, not inside the body, so a broken cause can degrade to a
// placeholder without dragging the whole chain down.
type Fault struct {
	Msg string `codec:"m"`

	frames []Frame
	causes []error
}

// NewFault builds a Fault and captures the caller's stack.
func NewFault(msg string, causes ...error) *Fault {
	return &Fault{
		Msg:    msg,
		frames: Callers(1),
		causes: causes,
	}
}

func (f *Fault) Error() string {
	return f.Msg
}

// Stack returns the frames captured when the fault was created, or restored
// from the wire after a decode.
func (f *Fault) Stack() []Frame {
	return f.frames
}

func (f *Fault) SetStack(frames []Frame) {
	f.frames = frames
}

// Unwrap exposes the causes in their original order.
func (f *Fault) Unwrap() []error {
	return f.causes
}

func (f *Fault) SetCauses(causes []error) {
	f.causes = causes
}
