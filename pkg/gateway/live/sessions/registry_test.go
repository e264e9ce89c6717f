package sessions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterUnregister(t *testing.T) {
	r := New()
	un1 := r.Register(Handle{ID: "a"})
	un2 := r.Register(Handle{ID: "b"})
	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}

	un1()
	un1() // idempotent
	if r.Count() != 1 {
		t.Fatalf("count = %d after unregister, want 1", r.Count())
	}
	un2()
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
}

func TestRegistryCancelAll(t *testing.T) {
	r := New()
	var mu sync.Mutex
	cancelled := map[string]bool{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		r.Register(Handle{ID: id, Cancel: func() {
			mu.Lock()
			cancelled[id] = true
			mu.Unlock()
		}})
	}

	r.CancelAll()
	mu.Lock()
	defer mu.Unlock()
	if len(cancelled) != 3 {
		t.Fatalf("cancelled %d sessions, want 3", len(cancelled))
	}
}

func TestRegistryWaitDrains(t *testing.T) {
	r := New()
	un := r.Register(Handle{ID: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Fatal("wait returned before the session unregistered")
	}

	un()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := r.Wait(ctx2); err != nil {
		t.Fatalf("wait after drain: %v", err)
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			un := r.Register(Handle{ID: fmt.Sprintf("s-%d", i), Cancel: func() {}})
			_ = r.Count()
			r.CancelAll()
			un()
		}(i)
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Fatalf("count = %d after churn, want 0", r.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
