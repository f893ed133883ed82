package enrollment

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/recognition/recognitiontest"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

func TestProfileCache_ReusesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	red := recognitiontest.Red

	if _, err := f.builder.Enroll(ctx, "s1", frames(t, red, red, red)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	cache := NewProfileCache(f.builder, 0)

	before := f.recognizer.Calls()
	p1, err := cache.Profile(ctx, "s1")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	afterFirst := f.recognizer.Calls()
	if afterFirst-before != 3 {
		t.Errorf("first resolve embedded %d crops, want 3", afterFirst-before)
	}

	p2, _ := cache.Profile(ctx, "s1")
	if p1 != p2 {
		t.Error("second resolve should return the cached profile")
	}
	if f.recognizer.Calls() != afterFirst {
		t.Error("cache hit must not embed again")
	}

	cache.Invalidate("s1")
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after invalidate", cache.Len())
	}
	if _, err := cache.Profile(ctx, "s1"); err != nil {
		t.Fatalf("Profile after invalidate failed: %v", err)
	}
	if f.recognizer.Calls() == afterFirst {
		t.Error("invalidated profile should be recomputed")
	}
}

func TestProfileCache_EnrollReplacesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := NewProfileCache(f.builder, 0)
	red, blue := recognitiontest.Red, recognitiontest.Blue

	first, err := cache.Enroll(ctx, "s1", frames(t, red, red, red))
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	second, err := cache.Enroll(ctx, "s1", frames(t, blue, blue, blue))
	if err != nil {
		t.Fatalf("re-Enroll failed: %v", err)
	}

	got, _ := cache.Profile(ctx, "s1")
	if got != second || closeTo(got.Embedding, first.Embedding) {
		t.Error("cache should hold the latest enrollment")
	}
}

func TestProfileCache_DoesNotCacheErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := NewProfileCache(f.builder, 0)

	if _, err := cache.Profile(ctx, "s1"); !errors.Is(err, storage.ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound, got %v", err)
	}

	red := recognitiontest.Red
	if _, err := f.builder.Enroll(ctx, "s1", frames(t, red, red, red)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if _, err := cache.Profile(ctx, "s1"); err != nil {
		t.Errorf("Profile after enrollment failed: %v", err)
	}
}

func TestProfileCache_ConcurrentResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	red := recognitiontest.Red
	if _, err := f.builder.Enroll(ctx, "s1", frames(t, red, red, red)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	cache := NewProfileCache(f.builder, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Profile(ctx, "s1"); err != nil {
				t.Errorf("Profile failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestProfileCache_SlowResolveDoesNotOverwriteNewEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	red, blue := recognitiontest.Red, recognitiontest.Blue

	if _, err := f.builder.Enroll(ctx, "s1", frames(t, red, red, red)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	cache := NewProfileCache(f.builder, 0)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.recognizer.EmbedFunc = func(crop image.Image) (recognition.Embedding, error) {
		emb := recognitiontest.MeanColor(crop)
		if emb[0] > 0.5 {
			once.Do(func() { close(started) })
			<-release
		}
		return emb, nil
	}

	done := make(chan *Profile)
	go func() {
		p, err := cache.Profile(ctx, "s1")
		if err != nil {
			t.Errorf("Profile failed: %v", err)
		}
		done <- p
	}()

	<-started
	enrolled, err := cache.Enroll(ctx, "s1", frames(t, blue, blue, blue))
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	close(release)
	if old := <-done; old == nil || closeTo(old.Embedding, enrolled.Embedding) {
		t.Fatal("in-flight resolve should have returned the old profile")
	}

	got, err := cache.Profile(ctx, "s1")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if got != enrolled {
		t.Errorf("cached embedding = %v, want the new enrollment %v", got.Embedding, enrolled.Embedding)
	}
}

func TestProfileCache_EntriesExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	red := recognitiontest.Red

	if _, err := f.builder.Enroll(ctx, "s1", frames(t, red, red, red)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	cache := NewProfileCache(f.builder, time.Minute)
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	if _, err := cache.Profile(ctx, "s1"); err != nil {
		t.Fatalf("Profile failed: %v", err)
	}

	// Removed behind the cache's back, as another process would.
	if err := f.store.Delete("s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	clock = clock.Add(30 * time.Second)
	if _, err := cache.Profile(ctx, "s1"); err != nil {
		t.Errorf("entry within ttl should still be served, got %v", err)
	}

	clock = clock.Add(time.Minute)
	if _, err := cache.Profile(ctx, "s1"); !errors.Is(err, storage.ErrReferenceNotFound) {
		t.Errorf("expired entry should be re-resolved, got %v", err)
	}
}
