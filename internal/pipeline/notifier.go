package pipeline

import (
	"sync"

	"github.com/whspr/klingfisher/internal/image"
)

// Outcome is the result of processing the image for a single request.
// Exactly one of Image and Err is set.
type Outcome struct {
	Image   *image.Image
	Err     error
	Request *image.Request
}

// Failed reports whether the request could not be satisfied
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Notifier passes outcomes on to its subscribers, in the order they are notified
type Notifier struct {
	mu          sync.Mutex
	subscribers []func(Outcome)
}

// Subscribe registers f to be called with every outcome
func (n *Notifier) Subscribe(f func(Outcome)) {
	n.mu.Lock()
	n.subscribers = append(n.subscribers, f)
	n.mu.Unlock()
}

// Notify calls every subscriber with o, in subscription order
func (n *Notifier) Notify(o Outcome) {
	n.mu.Lock()
	subscribers := n.subscribers
	n.mu.Unlock()

	for _, f := range subscribers {
		f(o)
	}
}
