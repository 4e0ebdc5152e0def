package index

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"knowledge-qa/internal/chunker"
	"knowledge-qa/internal/models"
)

// Cache memoizes folder indexes by file, chunk config and index options.
// Concurrent requests for the same key share one build; failed builds are
// not remembered. Past maxEntries the least recently used entry is dropped.
type Cache struct {
	builder    *Builder
	maxEntries int

	group   singleflight.Group
	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key   string
	index *FolderIndex
}

func NewCache(builder *Builder, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		builder:    builder,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Key identifies the index of one file built with one configuration.
func Key(fileID string, cc chunker.Config, opts Options) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", fileID, cc.Size, cc.Overlap, opts.fingerprint())))
	return hex.EncodeToString(sum[:])
}

// Get returns the index for key, building it from chunks on a miss. cached
// reports whether no build ran for this call. The caller owns one reference
// and must Release it.
func (c *Cache) Get(ctx context.Context, key string, chunks []models.Chunk, opts Options, apiKey string) (idx *FolderIndex, cached bool, err error) {
	if opts.Provider.RequiresAPIKey() && strings.TrimSpace(apiKey) == "" {
		return nil, false, fmt.Errorf("%w: %s embeddings need an API key", models.ErrMissingAPIKey, opts.Provider)
	}
	if idx := c.lookup(key); idx != nil {
		log.Debug().Str("key", short(key)).Msg("Folder index cache hit")
		return idx, true, nil
	}

	// only the caller whose function runs can set built
	built := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		if idx := c.lookup(key); idx != nil {
			// lookup took a reference for this build's caller
			idx.Release()
			return idx, nil
		}
		fresh, err := c.builder.Build(ctx, chunks, opts, apiKey)
		if err != nil {
			return nil, err
		}
		built = true
		c.insert(key, fresh)
		return fresh, nil
	})
	if err != nil {
		return nil, false, err
	}
	idx = v.(*FolderIndex)
	if !idx.acquire() {
		return nil, false, fmt.Errorf("%w: index evicted during build", models.ErrIndexBuild)
	}
	return idx, !built, nil
}

func (c *Cache) lookup(key string) *FolderIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	e := el.Value.(*cacheEntry)
	if !e.index.acquire() {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil
	}
	c.order.MoveToFront(el)
	return e.index
}

// insert hands the build reference to the cache.
func (c *Cache) insert(key string, idx *FolderIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, index: idx})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		e := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, e.key)
		log.Debug().Str("key", short(e.key)).Msg("Evicting folder index")
		if err := e.index.Release(); err != nil {
			log.Warn().Err(err).Msg("Closing evicted folder index failed")
		}
	}
}

// Len returns the number of cached indexes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close drops every entry. Indexes still held elsewhere stay open until released.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*cacheEntry).index.Release()
	}
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}
