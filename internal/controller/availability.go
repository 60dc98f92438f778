package controller

import (
	"context"
	"sync"

	"github.com/footron/controller/internal/types"
)

// availabilityCache memoizes each experience's Available() probe behind a
// once-cell (spec §9: "Manual memoization of image_exists ... straightforward
// behind the interface: a once-cell around the availability probe"),
// generalized from the Docker-only original to every experience kind since
// web/video/capture environments each have their own one-shot availability
// check (binary on PATH, capture-service reachable).
type availabilityCache struct {
	mu     sync.Mutex
	once   map[string]*sync.Once
	result map[string]bool
}

func newAvailabilityCache() *availabilityCache {
	return &availabilityCache{
		once:   map[string]*sync.Once{},
		result: map[string]bool{},
	}
}

func (a *availabilityCache) get(id string, probe func() bool) bool {
	a.mu.Lock()
	once, ok := a.once[id]
	if !ok {
		once = &sync.Once{}
		a.once[id] = once
	}
	a.mu.Unlock()

	once.Do(func() {
		result := probe()
		a.mu.Lock()
		a.result[id] = result
		a.mu.Unlock()
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result[id]
}

// Available reports whether an experience's environment can actually be
// instantiated, memoized per id for the lifetime of the process (spec §3:
// "available(): bool - whether the environment can actually be
// instantiated").
func (c *Controller) Available(ctx context.Context, id string) bool {
	exp, ok := c.Experience(id)
	if !ok {
		return false
	}
	return c.checkAvailable(ctx, id, exp)
}

// checkAvailable runs the memoized availability probe for exp without
// going through the catalog lock, so ReloadFromFS can call it while
// building the next catalog snapshot rather than only after it is published
// (see dropUnavailable in controller.go).
func (c *Controller) checkAvailable(ctx context.Context, id string, exp types.Experience) bool {
	return c.availability.get(id, func() bool {
		env, err := c.factory.New(exp.Kind)
		if err != nil {
			return false
		}
		if closer, ok := env.(interface{ Close() }); ok {
			defer closer.Close()
		}
		return env.Available(ctx)
	})
}
