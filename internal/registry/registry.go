// Package registry holds the process-wide index of live tunnels. It is the
// single piece of shared mutable state between the SSH front end, the HTTP
// front end, and the TUIs, so every mutation happens under one mutex and
// never blocks on I/O while holding it.
package registry

import (
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidName   = errors.New("invalid tunnel name")
	ErrNameTaken     = errors.New("tunnel name already in use")
	ErrNameExhausted = errors.New("could not allocate a free tunnel name")
)

// Visibility controls which HTTP requests may reach a tunnel
type Visibility int

const (
	Private Visibility = iota
	Protected
	Public
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Protected:
		return "protected"
	case Public:
		return "public"
	}
	return "unknown"
}

// Dialer opens a byte stream through the owning SSH session to the
// client-side service behind a tunnel. The SSH session implements it with a
// real direct-tcpip channel; tests implement it with in-memory pipes.
type Dialer interface {
	OpenTunnel(remotePort uint32) (io.ReadWriteCloser, error)
}

// Tunnel is the registry's handle for one registered forward. Name,
// visibility and ACL are guarded by the registry mutex; the byte and
// connection counters are atomics and may be touched from any goroutine.
type Tunnel struct {
	registry *Registry

	name       string
	owner      string
	remotePort uint32
	dialer     Dialer
	createdAt  time.Time

	visibility Visibility
	acl        map[string]struct{}

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
	conns    atomic.Int64
}

// Owner returns the username that registered the tunnel
func (t *Tunnel) Owner() string { return t.owner }

// RemotePort returns the port the SSH client asked to have forwarded
func (t *Tunnel) RemotePort() uint32 { return t.remotePort }

// CreatedAt returns the registration timestamp
func (t *Tunnel) CreatedAt() time.Time { return t.createdAt }

// Name returns the tunnel's current subdomain label
func (t *Tunnel) Name() string {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return t.name
}

// Visibility returns the tunnel's current visibility
func (t *Tunnel) Visibility() Visibility {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return t.visibility
}

// ACL returns a copy of the usernames granted access beyond the owner
func (t *Tunnel) ACL() []string {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return t.aclLocked()
}

func (t *Tunnel) aclLocked() []string {
	users := make([]string, 0, len(t.acl))
	for user := range t.acl {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// AddBytes increments the byte counters. Counters only ever grow.
func (t *Tunnel) AddBytes(in, out uint64) {
	if in > 0 {
		t.bytesIn.Add(in)
	}
	if out > 0 {
		t.bytesOut.Add(out)
	}
}

// BytesIn returns the bytes streamed from the tunnel client to HTTP clients
func (t *Tunnel) BytesIn() uint64 { return t.bytesIn.Load() }

// BytesOut returns the bytes streamed from HTTP clients into the tunnel
func (t *Tunnel) BytesOut() uint64 { return t.bytesOut.Load() }

// AddConn records an opened forwarding channel
func (t *Tunnel) AddConn() { t.conns.Add(1) }

// DoneConn records a closed forwarding channel
func (t *Tunnel) DoneConn() { t.conns.Add(-1) }

// ActiveConns returns the number of forwarding channels currently open
func (t *Tunnel) ActiveConns() int64 { return t.conns.Load() }

// View is a read-only snapshot of a tunnel taken by Resolve. The embedded
// handle keeps the counters reachable for byte accounting.
type View struct {
	Name       string
	Owner      string
	Visibility Visibility
	ACL        []string
	RemotePort uint32
	Dialer     Dialer

	tunnel *Tunnel
}

// AllowsPrincipal reports whether a private tunnel admits the given user
func (v View) AllowsPrincipal(user string) bool {
	if user != "" && user == v.Owner {
		return true
	}
	for _, allowed := range v.ACL {
		if user == allowed {
			return true
		}
	}
	return false
}

// AddBytes increments the snapshot's underlying counters
func (v View) AddBytes(in, out uint64) { v.tunnel.AddBytes(in, out) }

// TrackConn records an opened forwarding channel and returns its closer
func (v View) TrackConn() func() {
	v.tunnel.AddConn()
	return v.tunnel.DoneConn
}

// Stat is one tunnel's counters for metrics exposition
type Stat struct {
	Name        string
	Owner       string
	Visibility  Visibility
	BytesIn     uint64
	BytesOut    uint64
	ActiveConns int64
}

// Registry maps subdomain labels to live tunnels
type Registry struct {
	mu       sync.Mutex
	tunnels  map[string]*Tunnel
	watchers map[chan struct{}]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tunnels:  make(map[string]*Tunnel),
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Register inserts a new tunnel. The requested name is used verbatim when it
// is a free, well-formed DNS label; otherwise a random six-character label is
// allocated. New tunnels start private with an empty ACL. The returned handle
// is the caller's capability for later mutations.
func (r *Registry) Register(owner string, dialer Dialer, requestedName string, remotePort uint32) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := requestedName
	if !ValidName(name) {
		name = ""
	}
	if _, taken := r.tunnels[name]; taken {
		name = ""
	}
	if name == "" {
		allocated, err := r.allocateNameLocked()
		if err != nil {
			return nil, err
		}
		name = allocated
	}

	t := &Tunnel{
		registry:   r,
		name:       name,
		owner:      owner,
		remotePort: remotePort,
		dialer:     dialer,
		createdAt:  time.Now(),
		visibility: Private,
		acl:        make(map[string]struct{}),
	}
	r.tunnels[name] = t
	r.notifyLocked()

	return t, nil
}

// Deregister removes a tunnel. Safe to call more than once.
func (r *Registry) Deregister(t *Tunnel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.tunnels[t.name]; ok && current == t {
		delete(r.tunnels, t.name)
		r.notifyLocked()
	}
}

// Resolve returns a snapshot of the tunnel answering to name
func (r *Registry) Resolve(name string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[name]
	if !ok {
		return View{}, false
	}

	return View{
		Name:       t.name,
		Owner:      t.owner,
		Visibility: t.visibility,
		ACL:        t.aclLocked(),
		RemotePort: t.remotePort,
		Dialer:     t.dialer,
		tunnel:     t,
	}, true
}

// Rename moves a tunnel to a new label. Unlike Register there is no random
// fallback: the caller asked for that exact name and gets a clear error.
func (r *Registry) Rename(t *Tunnel, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !ValidName(newName) {
		return ErrInvalidName
	}
	if current, ok := r.tunnels[t.name]; !ok || current != t {
		return ErrInvalidName
	}
	if newName == t.name {
		return nil
	}
	if _, taken := r.tunnels[newName]; taken {
		return ErrNameTaken
	}

	delete(r.tunnels, t.name)
	t.name = newName
	r.tunnels[newName] = t
	r.notifyLocked()

	return nil
}

// SetVisibility changes who may reach the tunnel over HTTP
func (r *Registry) SetVisibility(t *Tunnel, v Visibility) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.visibility == v {
		return
	}
	t.visibility = v
	r.notifyLocked()
}

// SetACL replaces the set of users granted access to a private tunnel
func (r *Registry) SetACL(t *Tunnel, users []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.acl = make(map[string]struct{}, len(users))
	for _, user := range users {
		if user != "" {
			t.acl[user] = struct{}{}
		}
	}
	r.notifyLocked()
}

// ListFor returns the user's tunnels ordered by creation time
func (r *Registry) ListFor(user string) []*Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tunnels []*Tunnel
	for _, t := range r.tunnels {
		if t.owner == user {
			tunnels = append(tunnels, t)
		}
	}
	sort.Slice(tunnels, func(i, j int) bool {
		if tunnels[i].createdAt.Equal(tunnels[j].createdAt) {
			return tunnels[i].name < tunnels[j].name
		}
		return tunnels[i].createdAt.Before(tunnels[j].createdAt)
	})

	return tunnels
}

// Len returns the number of registered tunnels
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}

// Snapshot returns per-tunnel counters for metrics exposition
func (r *Registry) Snapshot() []Stat {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]Stat, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		stats = append(stats, Stat{
			Name:        t.name,
			Owner:       t.owner,
			Visibility:  t.visibility,
			BytesIn:     t.bytesIn.Load(),
			BytesOut:    t.bytesOut.Load(),
			ActiveConns: t.conns.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return stats
}

// Watch registers for change notifications. The channel carries a resync
// signal, not events: a slow watcher misses intermediate states and simply
// re-reads the registry on its next receive. The cancel function must be
// called to release the watcher.
func (r *Registry) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.watchers, ch)
		r.mu.Unlock()
	}

	return ch, cancel
}

func (r *Registry) notifyLocked() {
	for ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
