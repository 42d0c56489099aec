package registry

import "testing"

type fakeConn struct {
	id     int64
	closed string
	sent   [][]byte
}

func (f *fakeConn) ID() int64 { return f.id }
func (f *fakeConn) Send(frame []byte) bool {
	f.sent = append(f.sent, frame)
	return true
}
func (f *fakeConn) Close(reason string) { f.closed = reason }

func TestRegisterDisplacesOldConnection(t *testing.T) {
	r := New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register("call:alice", c1)
	if !r.Online("call:alice") {
		t.Fatal("expected online after register")
	}

	r.Register("call:alice", c2)
	if c1.closed == "" {
		t.Fatal("expected old connection to be closed on displacement")
	}

	conn, ok := r.Lookup("call:alice")
	if !ok || conn.ID() != 2 {
		t.Fatalf("expected new connection registered, got %v", conn)
	}
}

func TestUnregisterOnlyRemovesCurrentOwner(t *testing.T) {
	r := New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register("call:bob", c1)
	r.Register("call:bob", c2) // c1 displaced

	r.Unregister("call:bob", c1) // stale disconnect racing the new registration
	if !r.Online("call:bob") {
		t.Fatal("stale unregister should not remove the current owner")
	}

	r.Unregister("call:bob", c2)
	if r.Online("call:bob") {
		t.Fatal("expected offline after current owner unregisters")
	}
}

func TestIsOwner(t *testing.T) {
	r := New()
	c1 := &fakeConn{id: 42}
	r.Register("call:carol", c1)

	if !r.IsOwner("call:carol", 42) {
		t.Fatal("expected owner match")
	}
	if r.IsOwner("call:carol", 99) {
		t.Fatal("expected owner mismatch for wrong conn id")
	}
	if r.IsOwner("call:unknown", 42) {
		t.Fatal("expected false for unregistered address")
	}
}
