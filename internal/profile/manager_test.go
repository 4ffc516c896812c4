package profile

import (
	"testing"
	"time"
)

// fakeStore is an in-memory Store counting reads.
type fakeStore struct {
	values map[string]string
	reads  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]string{}}
}

func (s *fakeStore) SetProfileKey(key, value string) error {
	s.values[key] = value
	return nil
}

func (s *fakeStore) GetProfileKey(key string) (string, error) {
	return s.values[key], nil
}

func (s *fakeStore) GetAllProfileKeys() (map[string]string, error) {
	s.reads++
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

// testClock is a manually advanced Clock.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestManagerGetEmptyStore(t *testing.T) {
	m := NewManager(newFakeStore())
	p, err := m.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p != (Profile{}) {
		t.Errorf("Get() on empty store = %+v, want zero profile", p)
	}
}

func TestManagerCaching(t *testing.T) {
	store := newFakeStore()
	store.values[KeyEmail] = "pat@example.com"
	clock := &testClock{now: time.Now()}
	m := NewManagerWithClock(store, clock, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := m.Get()
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if p.Email != "pat@example.com" {
			t.Fatalf("Email = %q", p.Email)
		}
	}
	if store.reads != 1 {
		t.Errorf("store reads = %d, want 1 (cached)", store.reads)
	}

	clock.advance(2 * time.Minute)
	if _, err := m.Get(); err != nil {
		t.Fatalf("Get() after TTL: %v", err)
	}
	if store.reads != 2 {
		t.Errorf("store reads = %d, want 2 after TTL expiry", store.reads)
	}
}

func TestManagerSetFieldInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	clock := &testClock{now: time.Now()}
	m := NewManagerWithClock(store, clock, time.Minute)

	if _, err := m.Get(); err != nil {
		t.Fatal(err)
	}
	if err := m.SetField(KeyFirstName, "Pat"); err != nil {
		t.Fatalf("SetField() error: %v", err)
	}

	p, err := m.Get()
	if err != nil {
		t.Fatal(err)
	}
	if p.FirstName != "Pat" {
		t.Errorf("FirstName = %q after SetField, want fresh read", p.FirstName)
	}
}

func TestManagerSetFieldUnknownKey(t *testing.T) {
	m := NewManager(newFakeStore())
	if err := m.SetField("identity.shoe_size", "11"); err == nil {
		t.Error("SetField() with unknown key = nil, want error")
	}
}

func TestManagerSetWholeProfile(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	want := testProfile()
	want.OpenToRelocation = true
	if err := m.Set(want); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	p, err := m.Get()
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != want.Email || !p.OpenToRelocation {
		t.Errorf("round trip = %+v", p)
	}
}
