package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCacheSize is the default number of embeddings kept in
// memory. At 768 dims * 4 bytes * 4096 entries that is ~12MB.
const DefaultMemoryCacheSize = 4096

// CachedEmbedder wraps an Embedder with a content-addressed cache:
// an in-memory LRU in front of an optional on-disk layer. Keys are
// derived from (provider, model, sha256(text)), so switching models
// never serves stale vectors. Misses are single-flighted per key
// across both Embed and EmbedBatch, so concurrent callers never
// duplicate an upstream call for the same text.
type CachedEmbedder struct {
	inner Embedder
	mem   *lru.Cache[string, []float32]
	dir   string // empty disables the disk layer

	mu       sync.Mutex
	inFlight map[string]*flight

	log *slog.Logger
}

// flight is one in-progress upstream embedding. done closes after vec
// and err are set.
type flight struct {
	done chan struct{}
	vec  []float32
	err  error
}

// NewCachedEmbedder creates the cache. dir may be empty for a
// memory-only cache.
func NewCachedEmbedder(inner Embedder, dir string, memSize int, log *slog.Logger) (*CachedEmbedder, error) {
	if memSize <= 0 {
		memSize = DefaultMemoryCacheSize
	}
	if log == nil {
		log = slog.Default()
	}
	mem, err := lru.New[string, []float32](memSize)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create embedding cache dir: %w", err)
		}
	}
	return &CachedEmbedder{inner: inner, mem: mem, dir: dir, inFlight: make(map[string]*flight), log: log}, nil
}

func (c *CachedEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *CachedEmbedder) Provider() string  { return c.inner.Provider() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *CachedEmbedder) Close() error      { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

func (c *CachedEmbedder) key(text string) string {
	textHash := sha256.Sum256([]byte(text))
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", c.inner.Provider(), c.inner.ModelName(), hex.EncodeToString(textHash[:]))
	return hex.EncodeToString(h.Sum(nil))
}

// claim registers a flight for key, or returns the one already in
// progress. owner is true for the caller that must perform the
// upstream call and finish the flight.
func (c *CachedEmbedder) claim(key string) (f *flight, owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.inFlight[key]; ok {
		return f, false
	}
	f = &flight{done: make(chan struct{})}
	c.inFlight[key] = f
	return f, true
}

// finish publishes a flight's outcome and wakes its joiners.
func (c *CachedEmbedder) finish(key string, f *flight, vec []float32, err error) {
	f.vec, f.err = vec, err
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	close(f.done)
}

// join waits for another caller's flight to land.
func (c *CachedEmbedder) join(ctx context.Context, f *flight) ([]float32, error) {
	select {
	case <-f.done:
		return f.vec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Embed returns the cached embedding when present. Concurrent misses
// for the same text collapse into one provider call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	f, owner := c.claim(key)
	if !owner {
		return c.join(ctx, f)
	}
	vec, err := c.inner.Embed(ctx, text)
	if err == nil {
		c.store(key, vec)
	}
	c.finish(key, f, vec, err)
	return vec, err
}

// EmbedBatch serves what it can from cache, claims the rest key by
// key, and embeds the claimed texts in one provider batch. Keys
// already in flight elsewhere (another batch, or Embed) are joined
// rather than re-requested.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	owned := make(map[int]*flight)
	joined := make(map[int]*flight)
	var ownedIdx []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.lookup(keys[i]); ok {
			results[i] = vec
			continue
		}
		f, isOwner := c.claim(keys[i])
		if isOwner {
			owned[i] = f
			ownedIdx = append(ownedIdx, i)
		} else {
			joined[i] = f
		}
	}

	if len(ownedIdx) > 0 {
		missTexts := make([]string, len(ownedIdx))
		for j, i := range ownedIdx {
			missTexts[j] = texts[i]
		}
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			for _, i := range ownedIdx {
				c.finish(keys[i], owned[i], nil, err)
			}
			return nil, err
		}
		for j, i := range ownedIdx {
			c.store(keys[i], vecs[j])
			c.finish(keys[i], owned[i], vecs[j], nil)
			results[i] = vecs[j]
		}
	}

	for i, f := range joined {
		vec, err := c.join(ctx, f)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	if vec, ok := c.mem.Get(key); ok {
		return vec, true
	}
	if c.dir == "" {
		return nil, false
	}
	vec, err := readVector(c.diskPath(key), c.inner.Dimensions())
	if err != nil {
		return nil, false
	}
	c.mem.Add(key, vec)
	return vec, true
}

func (c *CachedEmbedder) store(key string, vec []float32) {
	c.mem.Add(key, vec)
	if c.dir == "" {
		return
	}
	if err := writeVector(c.diskPath(key), vec); err != nil {
		c.log.Warn("failed to persist embedding to cache", "error", err)
	}
}

func (c *CachedEmbedder) diskPath(key string) string {
	return filepath.Join(c.dir, key[:2], key+".vec")
}

// Disk format: little-endian float32 values, nothing else. Dimension
// comes from the embedder, and a size mismatch invalidates the entry.
func readVector(path string, dimensions int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != dimensions*4 {
		return nil, fmt.Errorf("cache entry size %d does not match dimension %d", len(data), dimensions)
	}
	vec := make([]float32, dimensions)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

func writeVector(path string, vec []float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
