// Package subscription implements the Subscription Controller (spec §4.6):
// the authoritative set of active subscriptions, diffed against whatever is
// requested so only the delta is sent, and replayed in full after a
// reconnect.
//
// Grounded on the teacher's internal/exchange.WSFeed.subscribed map plus
// sendInitialSubscription (which just re-sent everything it knew about on
// every reconnect) — generalized into its own component that computes an
// actual diff against a desired set, since spec §4.6 requires "issues only
// the delta" for ordinary Add/Remove calls, while reconnect still resends
// the full active set (spec §4.5, §8's reasserted-set invariant).
package subscription

import "sync"

// Kind distinguishes the market channel (asset IDs) from the user channel
// (condition/market IDs plus credentials, carried by the caller).
type Kind string

const (
	Market Kind = "MARKET"
	User   Kind = "USER"
)

// Delta is the set of IDs to add and remove to bring the server's view in
// line with the desired set.
type Delta struct {
	Kind    Kind
	Added   []string
	Removed []string
}

// Controller owns the authoritative active-subscription sets for both
// channels, keyed by Kind.
type Controller struct {
	mu     sync.Mutex
	active map[Kind]map[string]bool
}

// New builds an empty Controller.
func New() *Controller {
	return &Controller{active: make(map[Kind]map[string]bool)}
}

// Add brings ids into the desired set for kind and returns the delta that
// must be sent to the server (just the newly added ones — already-active
// IDs are not resent).
func (c *Controller) Add(kind Kind, ids []string) Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.setFor(kind)
	var added []string
	for _, id := range ids {
		if !set[id] {
			set[id] = true
			added = append(added, id)
		}
	}
	return Delta{Kind: kind, Added: added}
}

// Remove takes ids out of the desired set and returns the delta.
func (c *Controller) Remove(kind Kind, ids []string) Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.setFor(kind)
	var removed []string
	for _, id := range ids {
		if set[id] {
			delete(set, id)
			removed = append(removed, id)
		}
	}
	return Delta{Kind: kind, Removed: removed}
}

// Active returns every ID currently active for kind, in no particular
// order — used to build the full resubscribe frame after a reconnect.
func (c *Controller) Active(kind Kind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.active[kind]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ActiveKinds returns every Kind that has at least one active subscription,
// so a reconnect handler knows which channels need resubscribing.
func (c *Controller) ActiveKinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Kind, 0, len(c.active))
	for k, set := range c.active {
		if len(set) > 0 {
			out = append(out, k)
		}
	}
	return out
}

func (c *Controller) setFor(kind Kind) map[string]bool {
	set, ok := c.active[kind]
	if !ok {
		set = make(map[string]bool)
		c.active[kind] = set
	}
	return set
}
