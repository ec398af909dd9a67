package pathalloc

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTimestampAllocator(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	alloc := &TimestampAllocator{Now: func() time.Time { return fixed }, SuffixLength: 8}

	tests := []struct {
		name      string
		namespace string
		fileName  string
		prefix    string
		suffix    string
	}{
		{"uploads namespace", "uploads/", "photo.JPG", "uploads/1700000000123-", ".jpg"},
		{"nested namespace", "/fragrances/", "bottle.png", "fragrances/1700000000123-", ".png"},
		{"empty namespace", "", "clip.mp4", "uploads/1700000000123-", ".mp4"},
		{"no extension", "uploads", "README", "uploads/1700000000123-", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alloc.Allocate(tt.namespace, tt.fileName)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %s, got %s", tt.prefix, got)
			}
			if tt.suffix != "" && !strings.HasSuffix(got, tt.suffix) {
				t.Errorf("expected suffix %s, got %s", tt.suffix, got)
			}
			base := strings.TrimPrefix(got, tt.prefix)
			random := strings.TrimSuffix(base, tt.suffix)
			if len(random) != 8 {
				t.Errorf("expected 8 random characters, got %q", random)
			}
		})
	}
}

func TestTimestampAllocatorNoCollisionsUnderConcurrency(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	alloc := &TimestampAllocator{Now: func() time.Time { return fixed }}

	const workers = 16
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := alloc.Allocate("uploads", "same.jpg")
				mu.Lock()
				seen[p] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique paths with a frozen clock, got %d", workers*perWorker, len(seen))
	}
}

func TestShardedAllocator(t *testing.T) {
	alloc := NewShardedAllocator()

	got := alloc.Allocate("fragrances", "my bottle.png")
	parts := strings.Split(got, "/")
	if len(parts) != 3 {
		t.Fatalf("expected 3 path parts, got %d (%s)", len(parts), got)
	}
	if parts[0] != "fragrances" {
		t.Errorf("expected namespace fragrances, got %s", parts[0])
	}
	if len(parts[1]) != 2 {
		t.Errorf("expected 2-char shard, got %s", parts[1])
	}
	if !strings.HasSuffix(parts[2], "_my_bottle.png") {
		t.Errorf("expected sanitized filename suffix, got %s", parts[2])
	}
}

func TestFuncAllocator(t *testing.T) {
	alloc := NewFuncAllocator(func(namespace, fileName string) string {
		return fmt.Sprintf("custom/%s/%s", NormalizeNamespace(namespace), fileName)
	})

	if got := alloc.Allocate("uploads/", "a.png"); got != "custom/uploads/a.png" {
		t.Errorf("unexpected path %s", got)
	}
}

func TestNormalizeNamespace(t *testing.T) {
	tests := map[string]string{
		"":                DefaultNamespace,
		"/":               DefaultNamespace,
		"uploads/":        "uploads",
		"/Fragrances/":    "fragrances",
		"a//b/":           "a/b",
		"../etc":          "etc",
		"with space/x":    "with_space/x",
		"  trimmed  /ok/": "trimmed/ok",
	}
	for in, want := range tests {
		if got := NormalizeNamespace(in); got != want {
			t.Errorf("NormalizeNamespace(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"photo.JPG":      "jpg",
		"archive.tar.gz": "gz",
		"noext":          "",
		"dir.d/file":     "",
		`C:\x\clip.MOV`:  "mov",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
