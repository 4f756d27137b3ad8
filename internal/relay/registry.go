// Package relay keeps the phone-number-to-connection mapping used for
// routing. The Registry is the only owner of that mapping.
package relay

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Tyrowin/geniustalk/internal/metrics"
)

// Policy selects how Bind treats an identity that is already bound.
type Policy int

const (
	// PolicyMulti keeps every connection registered under the same identity.
	PolicyMulti Policy = iota
	// PolicySingle closes the existing connections before binding the new one.
	PolicySingle
)

// ParsePolicy accepts "multi" or "single".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multi", "":
		return PolicyMulti, nil
	case "single":
		return PolicySingle, nil
	default:
		return PolicyMulti, fmt.Errorf("unknown connection policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PolicySingle {
		return "single"
	}
	return "multi"
}

// Presence is one row of a registry snapshot.
type Presence struct {
	Identity    string `json:"phone"`
	Connections int    `json:"count"`
}

// Registry maps identities to their set of live connections. Every method is
// safe for concurrent use. Lock order is Registry before Conn.
type Registry struct {
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	byName map[string]map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(policy Policy, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		policy:  policy,
		logger:  orDiscard(logger),
		metrics: m,
		byName:  make(map[string]map[*Conn]struct{}),
	}
}

// Policy returns the bind policy the registry was created with.
func (r *Registry) Policy() Policy { return r.policy }

// Bind adds c to the set for identity and records identity on c. A connection
// already bound under another identity is moved. Under PolicySingle every
// other connection bound to identity is removed and closed with
// CloseReplaced. Binding a connection that has started closing is a no-op.
func (r *Registry) Bind(identity string, c *Conn) {
	var replaced []*Conn

	r.mu.Lock()
	if !c.IsOpen() {
		r.mu.Unlock()
		return
	}

	if prev := c.Identity(); prev != "" && prev != identity {
		r.removeLocked(prev, c)
	}

	set := r.byName[identity]
	if r.policy == PolicySingle {
		for other := range set {
			if other != c {
				delete(set, other)
				replaced = append(replaced, other)
			}
		}
	}
	if set == nil {
		set = make(map[*Conn]struct{})
		r.byName[identity] = set
	}
	set[c] = struct{}{}
	c.setIdentity(identity)

	count := len(set)
	online := len(r.byName)
	r.mu.Unlock()

	r.metrics.SetIdentitiesOnline(online)
	r.logger.Info("identity bound", "phone", identity, "conn", c.ID(), "connections", count)

	// Closing runs the release hook, which re-enters the registry.
	for _, old := range replaced {
		r.metrics.IncrementReplacements()
		r.logger.Info("connection replaced", "phone", identity, "conn", old.ID())
		_ = old.SendEnvelope(systemEnvelope(TextConnReplaced))
		old.Close(CloseReplaced, TextConnReplaced)
	}
}

// Unbind removes c from the set of its bound identity and prunes the
// identity when the set becomes empty. It is a no-op for unbound connections
// and safe to call more than once.
func (r *Registry) Unbind(c *Conn) {
	r.mu.Lock()
	identity := c.Identity()
	if identity == "" {
		r.mu.Unlock()
		return
	}
	removed := r.removeLocked(identity, c)
	online := len(r.byName)
	r.mu.Unlock()

	if removed {
		r.metrics.SetIdentitiesOnline(online)
		r.logger.Info("identity unbound", "phone", identity, "conn", c.ID())
	}
}

func (r *Registry) removeLocked(identity string, c *Conn) bool {
	set, ok := r.byName[identity]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.byName, identity)
	}
	return true
}

// Recipients returns the open connections bound to identity. The slice is a
// copy; connections that have started closing are left out.
func (r *Registry) Recipients(identity string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byName[identity]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for c := range set {
		if c.IsOpen() {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot lists every bound identity with its connection count, sorted by
// identity.
func (r *Registry) Snapshot() []Presence {
	r.mu.RLock()
	out := make([]Presence, 0, len(r.byName))
	for identity, set := range r.byName {
		out = append(out, Presence{Identity: identity, Connections: len(set)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Identities returns the sorted list of bound identities.
func (r *Registry) Identities() []string {
	snap := r.Snapshot()
	out := make([]string, len(snap))
	for i, p := range snap {
		out[i] = p.Identity
	}
	return out
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
