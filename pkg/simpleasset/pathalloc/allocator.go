package pathalloc

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is used when a caller passes an empty namespace.
const DefaultNamespace = "uploads"

// Allocator defines the interface for storage path allocation strategies
type Allocator interface {
	// Allocate returns a storage path under namespace for a file named fileName
	Allocate(namespace, fileName string) string
}

// TimestampAllocator produces flat paths of the form
// {namespace}/{unix-millis}-{random}.{ext}
type TimestampAllocator struct {
	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// SuffixLength controls how many random hex characters follow the timestamp (default: 12)
	SuffixLength int
}

func NewTimestampAllocator() *TimestampAllocator {
	return &TimestampAllocator{
		Now:          time.Now,
		SuffixLength: 12,
	}
}

func (a *TimestampAllocator) Allocate(namespace, fileName string) string {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	n := a.SuffixLength
	if n <= 0 || n > 32 {
		n = 12
	}

	name := fmt.Sprintf("%d-%s", now().UnixMilli(), randomHex(n))
	if ext := Extension(fileName); ext != "" {
		name += "." + ext
	}
	return path.Join(NormalizeNamespace(namespace), name)
}

// ShardedAllocator spreads objects across Git-style shard directories
// {namespace}/{ab}/{cd1234ef5678...}_{filename}
type ShardedAllocator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedAllocator() *ShardedAllocator {
	return &ShardedAllocator{ShardLength: 2}
}

func (a *ShardedAllocator) Allocate(namespace, fileName string) string {
	id := randomHex(32)
	shard := a.ShardLength
	if shard <= 0 || shard >= len(id) {
		shard = 2
	}

	filename := id[shard:]
	if fileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(path.Base(fileName)))
	}
	return path.Join(NormalizeNamespace(namespace), id[:shard], filename)
}

// FuncAllocator allows callers to provide their own allocation function
type FuncAllocator struct {
	AllocateFunc func(namespace, fileName string) string
}

func NewFuncAllocator(fn func(namespace, fileName string) string) *FuncAllocator {
	return &FuncAllocator{AllocateFunc: fn}
}

func (a *FuncAllocator) Allocate(namespace, fileName string) string {
	return a.AllocateFunc(namespace, fileName)
}

// NormalizeNamespace trims slashes, sanitizes each segment, and falls back to
// DefaultNamespace. "fragrances/" and "/fragrances" both become "fragrances".
func NormalizeNamespace(namespace string) string {
	var parts []string
	for _, p := range strings.Split(namespace, "/") {
		p = sanitizePathComponent(strings.TrimSpace(p))
		if p == "" || p == "." || p == ".." {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return DefaultNamespace
	}
	return strings.Join(parts, "/")
}

// Extension returns the lowercased extension of fileName without the dot,
// or "" when there is none.
func Extension(fileName string) string {
	ext := strings.TrimPrefix(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))), ".")
	if ext == "" {
		return ""
	}
	return sanitizePathComponent(ext)
}

func randomHex(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s[:n]
}

// Helper functions for path sanitization
func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(sanitizeFilename(component))
}

// NewDefault returns the allocator used when none is configured
func NewDefault() Allocator {
	return NewTimestampAllocator()
}
