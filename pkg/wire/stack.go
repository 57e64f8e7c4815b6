package wire

import "runtime"

// Frame is one captured call site.
type Frame struct {
	Function string `codec:"fn"`
	File     string `codec:"f"`
	Line     int    `codec:"l"`
}

// StackTracer is implemented by errors that expose the call stack captured
// when they were created. The encoder ships those frames next to the error
// body so the receiving side can inspect where a remote failure originated.
type StackTracer interface {
	Stack() []Frame
}

// StackSetter lets the decoder restore the frames captured on the sending
// side. Without it a reconstructed error keeps the stack its own decoding
// produced, which would point into the codec instead of the remote failure.
type StackSetter interface {
	SetStack(frames []Frame)
}

const maxStackDepth = 32

// Callers captures the calling goroutine's stack. skip names how many
// additional frames to drop; 0 starts at the caller of Callers.
func Callers(skip int) []Frame {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		fr, more := frames.Next()
		out = append(out, Frame{
			Function: fr.Function,
			File:     fr.File,
			Line:     fr.Line,
		})
		if !more {
			return out
		}
	}
}
