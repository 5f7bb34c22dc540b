package unwind

import "fmt"

// PanicHookInfo mirrors the source's PanicHookInfo: the registered hook
// runs before unwinding begins, so diagnostics see the panic even when
// CanUnwind is false and the process is about to abort outright.
type PanicHookInfo struct {
	Payload   any
	Location  string
	CanUnwind bool
}

// Hook is the registered panic hook, run by Panic before unwinding
// starts. nil means no hook is installed.
var Hook func(PanicHookInfo)

// Abort is invoked when a double panic is detected: a panic reaching
// CatchUnwind while its PanicGuard already marks an outer call on the
// same guard as unwinding (spec.md §4.G step 6, "a frame marked
// nounwind is encountered ... call the abort routine"). The default
// crashes the process; tests substitute their own to observe the call.
var Abort = func(payload any) {
	panic(fmt.Sprintf("unwind: double panic, aborting: %v", payload))
}

// PanicGuard tracks how many panics are currently unwinding through one
// logical thread of control, the Go rendering of the source's per-hart
// re-entrancy counter. Nested CatchUnwind calls that are meant to
// observe each other's in-flight-unwinding state (e.g. a cleanup running
// during one CatchUnwind calling another) must share the same guard.
type PanicGuard struct {
	depth int
}

func (g *PanicGuard) enter() (alreadyUnwinding bool) {
	g.depth++
	return g.depth > 1
}

func (g *PanicGuard) release() { g.depth-- }

// Unwinding reports whether a panic is currently propagating through g.
func (g *PanicGuard) Unwinding() bool { return g.depth > 0 }

// Panic runs the registered hook then raises payload as a Go panic, the
// rendering of the source's "calls the registered hook ... then, if
// unwinding is permitted, calls begin_unwind". canUnwind false still
// runs the hook (diagnostics must see the panic), then calls Abort with
// payload and returns instead of panicking.
func Panic(location string, canUnwind bool, payload any) {
	if Hook != nil {
		Hook(PanicHookInfo{Payload: payload, Location: location, CanUnwind: canUnwind})
	}
	if !canUnwind {
		Abort(payload)
		return
	}
	panic(payload)
}

// CatchUnwind executes f and converts a panic into a returned payload,
// the rendering of catch_unwind(f): f() panicking returns (payload,
// true); returning normally returns (nil, false). A panic that reaches
// CatchUnwind while g is already unwinding (a panic during the unwind of
// an outer, guard-sharing CatchUnwind — e.g. from a deferred cleanup) is
// the "double panic" case and is routed to Abort instead of being
// returned.
func CatchUnwind(g *PanicGuard, f func()) (payload any, recovered bool) {
	alreadyUnwinding := g.enter()
	defer g.release()

	defer func() {
		if r := recover(); r != nil {
			if alreadyUnwinding {
				Abort(r)
				return
			}
			payload, recovered = r, true
		}
	}()
	f()
	return nil, false
}

// ResumeUnwind re-raises a payload CatchUnwind caught, continuing the
// unwind past the frame that called CatchUnwind.
func ResumeUnwind(payload any) { panic(payload) }
