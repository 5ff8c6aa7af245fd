package headless

import "context"

// Noop stands in for a Browser when headless rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// Navigate always fails with ErrUnavailable.
func (Noop) Navigate(_ context.Context, _ NavigateRequest) (Page, error) {
	return Page{}, ErrUnavailable
}

// Close is a no-op.
func (Noop) Close() {}
