// Package registry holds the mixer's node table: per-node audio state
// keyed by UUID, plus a reverse address lookup for fast inbound dispatch.
// It is owned exclusively by the mixer goroutine; nothing in this package
// takes a lock. The liveness side loop runs on that same goroutine
// between ticks, so there is no second accessor to guard against.
package registry

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"audiomixer/internal/source"
)

// ErrUnknownNode is returned by operations that require an existing node.
var ErrUnknownNode = errors.New("registry: unknown node")

// NodeState is the per-node audio record.
type NodeState struct {
	ID uuid.UUID

	PublicAddr *net.UDPAddr
	LocalAddr  *net.UDPAddr
	ActiveAddr *net.UDPAddr

	LastHeard time.Time

	Mic       *source.Source // nil until the node's first Microphone packet
	Injectors map[uuid.UUID]*source.Source

	// LoopbackSelf mirrors the echo flag of the most recently received
	// MicAudio packet: whether this node's own mic should be mixed into
	// its own output.
	LoopbackSelf bool

	// Linked marks that ring buffers have been attached to this node, as
	// opposed to a bare roster entry created from a domain check-in with
	// no audio yet.
	Linked bool
}

// isListener reports whether this node has a Microphone source and a
// known active address, i.e. the mixer owes it a personalized output.
func (n *NodeState) isListener() bool {
	return n.Mic != nil && n.ActiveAddr != nil
}

// IsListener reports whether this node has a Microphone source and a
// known active address.
func (n *NodeState) IsListener() bool { return n.isListener() }

// Registry maps node UUID to NodeState, plus a reverse address index.
type Registry struct {
	nodes   map[uuid.UUID]*NodeState
	byAddr  map[string]uuid.UUID
	ringCap int
	frame   int
	jitter  int
}

// New constructs an empty Registry. ringCap/frame/jitter are forwarded to
// every source.Source created by this registry's LookupOrCreate.
func New(ringCap, frame, jitter int) *Registry {
	return &Registry{
		nodes:   make(map[uuid.UUID]*NodeState),
		byAddr:  make(map[string]uuid.UUID),
		ringCap: ringCap,
		frame:   frame,
		jitter:  jitter,
	}
}

// LookupOrCreate returns the NodeState for id, creating an empty one (no
// sources yet) if this is the first time id has been seen.
func (r *Registry) LookupOrCreate(id uuid.UUID) *NodeState {
	if n, ok := r.nodes[id]; ok {
		return n
	}
	n := &NodeState{ID: id, Injectors: make(map[uuid.UUID]*source.Source)}
	r.nodes[id] = n
	return n
}

// Lookup returns the NodeState for id without creating it.
func (r *Registry) Lookup(id uuid.UUID) (*NodeState, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// EnsureMic returns n's Microphone source, creating it if absent.
func (r *Registry) EnsureMic(n *NodeState) *source.Source {
	if n.Mic == nil {
		n.Mic = source.New(source.Microphone, r.ringCap, r.frame, r.jitter)
		n.Linked = true
	}
	return n.Mic
}

// EnsureInjector returns n's Injector source identified by injectorID,
// creating it if absent.
func (r *Registry) EnsureInjector(n *NodeState, injectorID uuid.UUID) *source.Source {
	s, ok := n.Injectors[injectorID]
	if !ok {
		s = source.New(source.Injector, r.ringCap, r.frame, r.jitter)
		n.Injectors[injectorID] = s
		n.Linked = true
	}
	return s
}

// BindAddress records addr as a return address for n. The first address
// ever bound for a node is promoted to active immediately; subsequent
// binds from a distinct address win over the current one with a
// last-writer-wins policy, leaving address promotion proper to
// PromoteActive for the ping/liveness path.
func (r *Registry) BindAddress(n *NodeState, addr *net.UDPAddr, local bool) {
	if local {
		if n.LocalAddr != nil && n.LocalAddr.String() != addr.String() {
			slog.Warn("node rebind from distinct local address", "node_id", n.ID, "old", n.LocalAddr, "new", addr)
		}
		n.LocalAddr = addr
	} else {
		if n.PublicAddr != nil && n.PublicAddr.String() != addr.String() {
			slog.Warn("node rebind from distinct public address", "node_id", n.ID, "old", n.PublicAddr, "new", addr)
		}
		n.PublicAddr = addr
	}
	if n.ActiveAddr == nil {
		n.ActiveAddr = addr
	}
	r.byAddr[addr.String()] = n.ID
}

// PromoteActive sets addr as n's active address unconditionally,
// overriding any previous active address. Used on address-promotion
// events: a received audio packet from a new address, or a ping reply.
func (r *Registry) PromoteActive(n *NodeState, addr *net.UDPAddr) {
	n.ActiveAddr = addr
	r.byAddr[addr.String()] = n.ID
}

// LookupByAddr resolves a socket address back to a node UUID, for fast
// inbound dispatch when a datagram's sender address is already known to
// the registry.
func (r *Registry) LookupByAddr(addr *net.UDPAddr) (uuid.UUID, bool) {
	id, ok := r.byAddr[addr.String()]
	return id, ok
}

// ByAddr resolves a socket address to its NodeState. Returns
// ErrUnknownNode when the address has never been bound, or when its node
// has since been evicted.
func (r *Registry) ByAddr(addr *net.UDPAddr) (*NodeState, error) {
	id, ok := r.byAddr[addr.String()]
	if !ok {
		return nil, ErrUnknownNode
	}
	n, ok := r.nodes[id]
	if !ok {
		return nil, ErrUnknownNode
	}
	return n, nil
}

// Touch updates n's last-heard timestamp to now.
func (r *Registry) Touch(n *NodeState, now time.Time) {
	n.LastHeard = now
}

// SweepSilent evicts every node whose now-LastHeard exceeds silentAfter,
// returning the removed UUIDs. A node that has never been touched (zero
// LastHeard) is evicted by the first sweep that sees it, however recently
// it was created.
func (r *Registry) SweepSilent(now time.Time, silentAfter time.Duration) []uuid.UUID {
	var removed []uuid.UUID
	for id, n := range r.nodes {
		if now.Sub(n.LastHeard) > silentAfter {
			removed = append(removed, id)
			delete(r.nodes, id)
			if n.ActiveAddr != nil {
				delete(r.byAddr, n.ActiveAddr.String())
			}
			if n.PublicAddr != nil {
				delete(r.byAddr, n.PublicAddr.String())
			}
			if n.LocalAddr != nil {
				delete(r.byAddr, n.LocalAddr.String())
			}
		}
	}
	return removed
}

// Len returns the number of nodes currently registered.
func (r *Registry) Len() int { return len(r.nodes) }

// Each calls fn once per registered node. Order is unspecified. fn must
// not mutate the registry's node set; use SweepSilent for removal.
func (r *Registry) Each(fn func(*NodeState)) {
	for _, n := range r.nodes {
		fn(n)
	}
}

// Listeners returns every node with a Microphone source and a known
// active address.
func (r *Registry) Listeners() []*NodeState {
	out := make([]*NodeState, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.isListener() {
			out = append(out, n)
		}
	}
	return out
}
