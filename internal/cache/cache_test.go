package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReadThroughCachesHits(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[string]("posts", 8, time.Minute)
	var calls int32
	load := func(context.Context) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return "body", true, nil
	}
	for i := 0; i < 3; i++ {
		v, ok, err := ReadThrough[string](ctx, c, "hello", load)
		if err != nil || !ok || v != "body" {
			t.Fatalf("read through: %q ok=%v err=%v", v, ok, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
	c.Delete("hello")
	if _, _, err := ReadThrough[string](ctx, c, "hello", load); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after delete, got %d", calls)
	}
}

func TestReadThroughSkipsMissesAndErrors(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[string]("posts", 8, time.Minute)
	if _, ok, err := ReadThrough[string](ctx, c, "gone", func(context.Context) (string, bool, error) {
		return "", false, nil
	}); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	boom := errors.New("boom")
	if _, _, err := ReadThrough[string](ctx, c, "bad", func(context.Context) (string, bool, error) {
		return "", false, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("nothing should be cached, len=%d", c.Len())
	}
}

func TestReadThroughSharesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[int]("posts", 8, time.Minute)
	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (int, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, true, nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, _, _ := ReadThrough[int](ctx, c, "k", load); v != 7 {
				t.Errorf("unexpected value %d", v)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls < 1 || calls > 5 {
		t.Fatalf("unexpected load count %d", calls)
	}
}

func TestNopAlwaysLoads(t *testing.T) {
	var calls int
	load := func(context.Context) (string, bool, error) {
		calls++
		return "v", true, nil
	}
	c := Nop[string]{}
	for i := 0; i < 2; i++ {
		if _, _, err := ReadThrough[string](context.Background(), c, "k", load); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("nop cache should not store, calls=%d", calls)
	}
}

func TestDeleteDuringLoadDiscardsStaleFill(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[string]("posts", 8, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string)
	go func() {
		v, _, _ := ReadThrough[string](ctx, c, "p", func(context.Context) (string, bool, error) {
			close(started)
			<-release
			return "old", true, nil
		})
		done <- v
	}()
	<-started
	c.Delete("p")
	close(release)
	if v := <-done; v != "old" {
		t.Fatalf("in-flight caller got %q", v)
	}
	if c.Len() != 0 {
		t.Fatalf("stale fill was cached, len=%d", c.Len())
	}
	v, _, err := ReadThrough[string](ctx, c, "p", func(context.Context) (string, bool, error) {
		return "new", true, nil
	})
	if err != nil || v != "new" {
		t.Fatalf("read after invalidation: %q err=%v", v, err)
	}
	if got, ok := c.Get("p"); !ok || got != "new" {
		t.Fatalf("fresh fill should be cached, got %q ok=%v", got, ok)
	}
}

func TestSharedLoadIgnoresFirstCallerCancel(t *testing.T) {
	c := NewLRU[string]("posts", 8, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	errs := make(chan error, 2)
	var once sync.Once
	load := func(ctx context.Context) (string, bool, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		return "body", true, nil
	}
	go func() {
		_, _, err := ReadThrough[string](ctx, c, "k", load)
		errs <- err
	}()
	<-started
	go func() {
		_, _, err := ReadThrough[string](context.Background(), c, "k", load)
		errs <- err
	}()
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("shared load failed: %v", err)
		}
	}
}
