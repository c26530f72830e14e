package registry

import (
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
)

type nopDialer struct{}

func (nopDialer) OpenTunnel(uint32) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("not dialable")
}

func TestRegisterRequestedName(t *testing.T) {
	r := New()

	tun, err := r.Register("alice", nopDialer{}, "hello", 8080)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if tun.Name() != "hello" {
		t.Errorf("Expected name 'hello', got %q", tun.Name())
	}
	if tun.Owner() != "alice" {
		t.Errorf("Expected owner 'alice', got %q", tun.Owner())
	}
	if tun.RemotePort() != 8080 {
		t.Errorf("Expected remote port 8080, got %d", tun.RemotePort())
	}
	if tun.Visibility() != Private {
		t.Errorf("Expected new tunnel to be private, got %v", tun.Visibility())
	}
	if len(tun.ACL()) != 0 {
		t.Errorf("Expected empty ACL, got %v", tun.ACL())
	}
}

func TestRegisterRandomNameShape(t *testing.T) {
	r := New()
	pattern := regexp.MustCompile(`^[a-z0-9]{6}$`)

	for _, requested := range []string{"", "UPPER", "under_score", "-edge", "edge-", "no.dots"} {
		tun, err := r.Register("alice", nopDialer{}, requested, 8080)
		if err != nil {
			t.Fatalf("Register(%q): expected no error, got: %v", requested, err)
		}
		if !pattern.MatchString(tun.Name()) {
			t.Errorf("Register(%q): expected random six-char name, got %q", requested, tun.Name())
		}
	}
}

func TestRegisterCollisionFallsBackToRandom(t *testing.T) {
	r := New()

	first, err := r.Register("alice", nopDialer{}, "hello", 8080)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := r.Register("bob", nopDialer{}, "hello", 9090)
	if err != nil {
		t.Fatalf("Expected collision to fall back, got error: %v", err)
	}

	if first.Name() != "hello" {
		t.Errorf("Expected first tunnel to keep 'hello', got %q", first.Name())
	}
	if second.Name() == "hello" {
		t.Error("Expected second tunnel to get a different name")
	}
	if !regexp.MustCompile(`^[a-z0-9]{6}$`).MatchString(second.Name()) {
		t.Errorf("Expected random fallback name, got %q", second.Name())
	}
}

func TestResolve(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)
	r.SetACL(tun, []string{"bob"})

	view, ok := r.Resolve("hello")
	if !ok {
		t.Fatal("Expected resolve to find 'hello'")
	}
	if view.Owner != "alice" {
		t.Errorf("Expected owner 'alice', got %q", view.Owner)
	}
	if view.RemotePort != 8080 {
		t.Errorf("Expected port 8080, got %d", view.RemotePort)
	}
	if len(view.ACL) != 1 || view.ACL[0] != "bob" {
		t.Errorf("Expected ACL [bob], got %v", view.ACL)
	}
	if view.Dialer == nil {
		t.Error("Expected view to carry the dialer")
	}

	if _, ok := r.Resolve("missing"); ok {
		t.Error("Expected resolve miss for unknown name")
	}
}

func TestDeregister(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)

	r.Deregister(tun)
	if _, ok := r.Resolve("hello"); ok {
		t.Error("Expected tunnel to be gone after deregister")
	}

	// Idempotent
	r.Deregister(tun)

	// A deregistered handle must not evict a newer tunnel with the same name
	replacement, _ := r.Register("bob", nopDialer{}, "hello", 9090)
	r.Deregister(tun)
	if _, ok := r.Resolve("hello"); !ok {
		t.Error("Expected replacement tunnel to survive stale deregister")
	}
	r.Deregister(replacement)
}

func TestRename(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)
	other, _ := r.Register("alice", nopDialer{}, "world", 9090)

	if err := r.Rename(tun, "greetings"); err != nil {
		t.Fatalf("Expected rename to succeed, got: %v", err)
	}
	if tun.Name() != "greetings" {
		t.Errorf("Expected name 'greetings', got %q", tun.Name())
	}
	if _, ok := r.Resolve("hello"); ok {
		t.Error("Expected old name to be released")
	}
	if _, ok := r.Resolve("greetings"); !ok {
		t.Error("Expected new name to resolve")
	}

	// Same-owner collisions still count
	if err := r.Rename(tun, other.Name()); err != ErrNameTaken {
		t.Errorf("Expected ErrNameTaken, got: %v", err)
	}
	if err := r.Rename(tun, "Bad_Name"); err != ErrInvalidName {
		t.Errorf("Expected ErrInvalidName, got: %v", err)
	}
	if err := r.Rename(tun, "greetings"); err != nil {
		t.Errorf("Expected rename to current name to be a no-op, got: %v", err)
	}
}

func TestSetVisibility(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)

	r.SetVisibility(tun, Public)
	if tun.Visibility() != Public {
		t.Errorf("Expected public, got %v", tun.Visibility())
	}

	view, _ := r.Resolve("hello")
	if view.Visibility != Public {
		t.Errorf("Expected resolved view to be public, got %v", view.Visibility)
	}
}

func TestAllowsPrincipal(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "priv", 8080)
	r.SetACL(tun, []string{"bob"})
	view, _ := r.Resolve("priv")

	tests := []struct {
		user     string
		expected bool
	}{
		{"alice", true},
		{"bob", true},
		{"carol", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := view.AllowsPrincipal(tt.user); got != tt.expected {
			t.Errorf("AllowsPrincipal(%q): expected %v, got %v", tt.user, tt.expected, got)
		}
	}
}

func TestByteCountersMonotonic(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)

	var lastIn, lastOut uint64
	for i := 0; i < 100; i++ {
		tun.AddBytes(uint64(i%7), uint64(i%3))
		in, out := tun.BytesIn(), tun.BytesOut()
		if in < lastIn || out < lastOut {
			t.Fatalf("Counters went backwards: in %d->%d out %d->%d", lastIn, in, lastOut, out)
		}
		lastIn, lastOut = in, out
	}
}

func TestTrackConn(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)
	view, _ := r.Resolve("hello")

	done := view.TrackConn()
	if tun.ActiveConns() != 1 {
		t.Errorf("Expected 1 active connection, got %d", tun.ActiveConns())
	}
	done()
	if tun.ActiveConns() != 0 {
		t.Errorf("Expected 0 active connections, got %d", tun.ActiveConns())
	}
}

func TestListFor(t *testing.T) {
	r := New()
	first, _ := r.Register("alice", nopDialer{}, "one", 8080)
	r.Register("bob", nopDialer{}, "two", 8081)
	second, _ := r.Register("alice", nopDialer{}, "three", 8082)

	tunnels := r.ListFor("alice")
	if len(tunnels) != 2 {
		t.Fatalf("Expected 2 tunnels for alice, got %d", len(tunnels))
	}
	if tunnels[0] != first || tunnels[1] != second {
		t.Error("Expected tunnels ordered by creation time")
	}

	if got := r.ListFor("carol"); len(got) != 0 {
		t.Errorf("Expected no tunnels for carol, got %d", len(got))
	}
}

func TestWatch(t *testing.T) {
	r := New()
	ch, cancel := r.Watch()
	defer cancel()

	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)
	select {
	case <-ch:
	default:
		t.Fatal("Expected a notification after register")
	}

	// Notifications are lossy: many mutations collapse into one pending signal
	r.SetVisibility(tun, Public)
	r.SetVisibility(tun, Protected)
	r.Deregister(tun)
	select {
	case <-ch:
	default:
		t.Fatal("Expected a pending notification after mutations")
	}
	select {
	case <-ch:
		t.Fatal("Expected notifications to be collapsed")
	default:
	}

	cancel()
	r.Register("alice", nopDialer{}, "after", 8080)
	select {
	case <-ch:
		t.Fatal("Expected no notification after cancel")
	default:
	}
}

func TestNameUniquenessUnderConcurrency(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 50

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			owner := fmt.Sprintf("user%d", w)
			var mine []*Tunnel
			for i := 0; i < perWorker; i++ {
				tun, err := r.Register(owner, nopDialer{}, "contested", uint32(i))
				if err != nil {
					t.Errorf("Register failed: %v", err)
					return
				}
				mine = append(mine, tun)
				if i%3 == 0 {
					r.Rename(tun, fmt.Sprintf("w%d-n%d", w, i))
				}
				if i%5 == 0 {
					r.Deregister(mine[0])
					mine = mine[1:]
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, stat := range r.Snapshot() {
		if seen[stat.Name] {
			t.Fatalf("Duplicate name in registry: %q", stat.Name)
		}
		seen[stat.Name] = true
		if !ValidName(stat.Name) {
			t.Errorf("Registered name violates DNS label rules: %q", stat.Name)
		}
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"a", "hello", "hello-world", "abc123", "0x0"}

	invalid := []string{"", "-edge", "edge-", "UPPER", "under_score", "dot.dot", "has space",
		"this-label-is-way-too-long-to-be-a-dns-label-because-it-exceeds-sixty-three-characters"}

	for _, name := range valid {
		if !ValidName(name) {
			t.Errorf("Expected %q to be valid", name)
		}
	}
	for _, name := range invalid {
		if ValidName(name) {
			t.Errorf("Expected %q to be invalid", name)
		}
	}
}

func TestSnapshot(t *testing.T) {
	r := New()
	tun, _ := r.Register("alice", nopDialer{}, "hello", 8080)
	r.SetVisibility(tun, Public)
	tun.AddBytes(100, 200)

	stats := r.Snapshot()
	if len(stats) != 1 {
		t.Fatalf("Expected 1 stat, got %d", len(stats))
	}
	stat := stats[0]
	if stat.Name != "hello" || stat.Owner != "alice" {
		t.Errorf("Unexpected stat identity: %+v", stat)
	}
	if stat.Visibility != Public {
		t.Errorf("Expected public, got %v", stat.Visibility)
	}
	if stat.BytesIn != 100 || stat.BytesOut != 200 {
		t.Errorf("Expected counters 100/200, got %d/%d", stat.BytesIn, stat.BytesOut)
	}
}
