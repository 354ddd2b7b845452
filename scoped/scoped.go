// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scoped provides deferred execution helpers.
//
// A Guard collects cleanup functions over a scope that is not a single
// function body (a struct lifetime, a loop iteration, a builder) and runs
// them in reverse registration order, exactly once:
//
//	var g scoped.Guard
//	defer g.Run()
//
//	f, err := os.Open(path)
//	if err != nil {
//	    return err
//	}
//	g.Defer(func() { f.Close() })
//
// OnError is the error-only variant: registered with defer against a named
// error result, it runs its callable only when the scope exits with a
// failure in flight:
//
//	func build() (err error) {
//	    res := acquire()
//	    defer scoped.OnError(&err, func() { res.release() })
//	    ...
//	}
//
// Go's failure signal at scope exit is the error result; a panic in flight
// cannot be probed without recover consuming it, so OnError keys off the
// error alone. Unconditional cleanups registered on a Guard still run
// during panic unwinds when Run is deferred.
package scoped

// Guard runs registered functions at scope exit in reverse registration
// order. The zero Guard is ready to use. Guard is not safe for concurrent
// use; it belongs to one scope on one goroutine.
type Guard struct {
	fns []func()
}

// Defer registers fn to run when the guard runs. Functions run in reverse
// registration order, matching the behavior of stacked defer statements.
func (g *Guard) Defer(fn func()) {
	g.fns = append(g.fns, fn)
}

// Run invokes the registered functions, last registered first. Run is
// idempotent: a second call does nothing. Typically deferred at the top of
// the owning scope so cleanups fire on every exit path, panics included.
func (g *Guard) Run() {
	fns := g.fns
	g.fns = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Len returns the number of cleanups still registered.
func (g *Guard) Len() int {
	return len(g.fns)
}

// OnError invokes fn when *errp is non-nil. Intended to be deferred against
// a named error result; stacked OnError calls run in reverse declaration
// order like any defer. A nil errp never fires.
func OnError(errp *error, fn func()) {
	if errp != nil && *errp != nil {
		fn()
	}
}
