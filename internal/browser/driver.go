package browser

import (
	"context"

	"github.com/ysmood/gson"

	"scrapekit/internal/fingerprint"
	"scrapekit/internal/pagesaver"
	"scrapekit/internal/proxy"
)

// Engine starts browser processes. Fingerprint and proxy are fixed at launch.
type Engine interface {
	Launch(ctx context.Context, profile fingerprint.Profile, ep *proxy.Endpoint) (Driver, error)
}

// Driver controls one page of a launched browser. It doubles as the page
// saver's Source.
type Driver interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error)
	// EvalAndWaitNavigation evaluates js and waits for any navigation it
	// starts to settle, bounded by ctx
	EvalAndWaitNavigation(ctx context.Context, js string, args ...interface{}) (gson.JSON, error)
	Resource(ctx context.Context, url string) ([]byte, error)
	// Screenshot captures the full page as PNG
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

var _ pagesaver.Source = Driver(nil)

// Saver persists the loaded page of a session
type Saver interface {
	Capture(ctx context.Context, src pagesaver.Source, name string) (*pagesaver.Bundle, error)
}

// State is the lifecycle position of a Session
type State int

const (
	StateCreated State = iota
	StateLaunched
	StateNavigated
	StateCaptchaPending
	StateCaptchaResolved
	StateCaptured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLaunched:
		return "launched"
	case StateNavigated:
		return "navigated"
	case StateCaptchaPending:
		return "captcha_pending"
	case StateCaptchaResolved:
		return "captcha_resolved"
	case StateCaptured:
		return "captured"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// loaded reports whether a document has been navigated to and the session is still open
func (s State) loaded() bool {
	return s >= StateNavigated && s < StateClosed
}
