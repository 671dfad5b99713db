package frame

import (
	"sync"
	"testing"
	"time"
)

func testRegistry(timeout time.Duration) *Registry {
	return NewRegistry(RegistryConfig{
		Store: StoreConfig{
			Retention: time.Minute,
			Logger:    testLogger(),
		},
		InactivityTimeout: timeout,
		SweepInterval:     10 * time.Millisecond,
		Logger:            testLogger(),
	})
}

func TestRegistry_GetOrCreate(t *testing.T) {
	registry := testRegistry(time.Minute)

	store := registry.GetOrCreate("cam1")
	if store == nil {
		t.Fatal("expected store to be created")
	}
	if registry.Count() != 1 {
		t.Errorf("expected 1 store, got %d", registry.Count())
	}

	again := registry.GetOrCreate("cam1")
	if again != store {
		t.Error("same client should get the same store")
	}
}

func TestRegistry_ClientIsolation(t *testing.T) {
	registry := testRegistry(time.Minute)
	now := time.Now()

	a := registry.GetOrCreate("cam-a")
	b := registry.GetOrCreate("cam-b")

	a.Append(makeFrame(1, now))
	a.Append(makeFrame(2, now.Add(time.Millisecond)))
	b.Append(makeFrame(1, now))

	if a.Count() != 2 {
		t.Errorf("cam-a should hold 2 frames, got %d", a.Count())
	}
	if b.Count() != 1 {
		t.Errorf("cam-b should hold 1 frame, got %d", b.Count())
	}
}

func TestRegistry_OnCreateHook(t *testing.T) {
	registry := testRegistry(time.Minute)

	var created []string
	registry.OnCreate(func(clientID string) {
		created = append(created, clientID)
	})

	registry.GetOrCreate("cam1")
	registry.GetOrCreate("cam1")
	registry.GetOrCreate("cam2")

	if len(created) != 2 {
		t.Fatalf("expected 2 create events, got %d", len(created))
	}
	if created[0] != "cam1" || created[1] != "cam2" {
		t.Errorf("unexpected create order: %v", created)
	}
}

func TestRegistry_InactivitySweep(t *testing.T) {
	registry := testRegistry(50 * time.Millisecond)

	removed := make(chan string, 1)
	registry.OnRemove(func(clientID string) {
		removed <- clientID
	})

	store := registry.GetOrCreate("cam1")
	store.Append(makeFrame(1, time.Now()))

	registry.Start()
	defer registry.Stop()

	select {
	case id := <-removed:
		if id != "cam1" {
			t.Errorf("expected cam1 removed, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle store was never reclaimed")
	}

	if _, ok := registry.Get("cam1"); ok {
		t.Error("store should be gone after sweep")
	}
}

func TestRegistry_TeardownRace(t *testing.T) {
	registry := testRegistry(time.Minute)

	store := registry.GetOrCreate("cam1")
	store.Append(makeFrame(1, time.Now()))
	registry.Remove("cam1")

	// A late append to the removed store must not crash, and re-ingesting
	// behaves like a brand-new client.
	store.Append(makeFrame(2, time.Now()))

	fresh := registry.GetOrCreate("cam1")
	if fresh == store {
		t.Error("recreated store should be a new instance")
	}
	if fresh.Count() != 0 {
		t.Errorf("recreated store should start empty, got %d frames", fresh.Count())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := testRegistry(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ids := []string{"cam1", "cam2", "cam3"}
			for j := 0; j < 100; j++ {
				id := ids[(n+j)%len(ids)]
				store := registry.GetOrCreate(id)
				store.Append(Frame{
					ClientID:  id,
					Sequence:  uint64(n*1000 + j),
					Timestamp: time.Now(),
					Data:      []byte("x"),
				})
			}
		}(i)
	}
	wg.Wait()

	if registry.Count() != 3 {
		t.Errorf("expected 3 stores, got %d", registry.Count())
	}
}
