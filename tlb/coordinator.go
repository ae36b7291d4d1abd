package tlb

import (
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Coordinator delivers invalidation requests to the TLBs of a cluster.
type Coordinator struct {
	mu     sync.RWMutex
	tlbs   []*TLB
	logger *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger used for broadcast tracing.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator with no attached TLBs.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach adds t to the set reached by broadcasts and returns its position.
func (c *Coordinator) Attach(t *TLB) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tlbs = append(c.tlbs, t)
	return len(c.tlbs) - 1
}

// TLBs returns the attached TLBs.
func (c *Coordinator) TLBs() []*TLB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*TLB(nil), c.tlbs...)
}

// Issue resolves req in the issuing core's state and applies it to origin,
// or to every attached TLB when the request is broadcast. A broadcast
// returns only after every targeted TLB has dropped its in-scope entries.
func (c *Coordinator) Issue(origin *TLB, st State, req Request) error {
	f, err := st.Resolve(req)
	if err != nil {
		return err
	}

	if !st.Broadcast(req) {
		origin.Apply(f)
		return nil
	}

	c.Broadcast(f)
	c.logger.Debug("tlb broadcast", "op", req.Op, "indexes", f.Indexes,
		"addr", req.Addr)
	return nil
}

// Broadcast applies f to every attached TLB and waits for all of them.
func (c *Coordinator) Broadcast(f Flush) int {
	targets := c.TLBs()
	dropped := make([]int, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			dropped[i] = t.Apply(f)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range dropped {
		total += n
	}
	return total
}
