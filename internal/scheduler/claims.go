package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maestro-run/maestro/internal/errors"
)

// ErrResourceClaimed is returned when a unit tries to claim a resource
// held by another in-flight unit.
var ErrResourceClaimed = errors.New("resource already claimed")

// Claims tracks which in-flight dispatch unit holds which declared
// resource. The batch builder already guarantees disjointness inside one
// batch; the registry asserts it across overlapping cycles, so a
// scheduling bug surfaces as a claim error instead of two backends
// mutating the same path.
type Claims struct {
	mu     sync.RWMutex
	owners map[string]string // resource -> unit id
}

// NewClaims creates an empty claims registry.
func NewClaims() *Claims {
	return &Claims{owners: make(map[string]string)}
}

// Claim registers ownership of every resource for the unit. Claims are
// atomic: if any resource is held by a different unit, resources claimed
// earlier in this call are rolled back. Re-claiming an owned resource is
// a no-op.
func (c *Claims) Claim(unitID string, resources []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var claimed []string
	for _, res := range resources {
		owner, ok := c.owners[res]
		if ok {
			if owner == unitID {
				continue // idempotent
			}
			for _, r := range claimed {
				delete(c.owners, r)
			}
			return fmt.Errorf("%w: %s owns %s", ErrResourceClaimed, owner, res)
		}
		c.owners[res] = unitID
		claimed = append(claimed, res)
	}
	return nil
}

// Release relinquishes every resource held by the unit.
func (c *Claims) Release(unitID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for res, owner := range c.owners {
		if owner == unitID {
			delete(c.owners, res)
		}
	}
}

// Holder returns the unit holding the resource and true, or ("", false)
// if the resource is unclaimed.
func (c *Claims) Holder(resource string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	owner, ok := c.owners[resource]
	return owner, ok
}

// HeldBy returns all resources held by the unit, sorted for
// deterministic output.
func (c *Claims) HeldBy(unitID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for res, owner := range c.owners {
		if owner == unitID {
			out = append(out, res)
		}
	}
	sort.Strings(out)
	return out
}
