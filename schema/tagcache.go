package schema

import (
	"container/list"
	"fmt"
	"sync"
)

// ============================================================
// Tag tables
// ============================================================

// TagTable maps tag values to the member structs of a tagged union.
// A TagTable is immutable and may be held by any number of decoders; being
// evicted from the cache does not invalidate it.
type TagTable struct {
	Field     string
	ArrayLike bool
	Members   []*StructInfo

	strs map[string]*StructInfo
	ints map[int64]*StructInfo
}

// LookupStr returns the member tagged with s.
func (tt *TagTable) LookupStr(s string) (*StructInfo, bool) {
	si, ok := tt.strs[s]
	return si, ok
}

// LookupInt returns the member tagged with v.
func (tt *TagTable) LookupInt(v int64) (*StructInfo, bool) {
	si, ok := tt.ints[v]
	return si, ok
}

// HasStrTags reports whether any member uses a string tag.
func (tt *TagTable) HasStrTags() bool { return len(tt.strs) > 0 }

// HasIntTags reports whether any member uses an integer tag.
func (tt *TagTable) HasIntTags() bool { return len(tt.ints) > 0 }

func newTagTable(members []*StructInfo) (*TagTable, error) {
	tt := &TagTable{Members: members, strs: map[string]*StructInfo{}, ints: map[int64]*StructInfo{}}
	for i, si := range members {
		if !si.Tagged() {
			return nil, &SchemaError{Type: si.Name, Msg: "if a type union contains multiple Struct types, all Struct types must be tagged"}
		}
		if i == 0 {
			tt.Field, tt.ArrayLike = si.TagField, si.ArrayLike
		} else if si.TagField != tt.Field {
			return nil, &SchemaError{Type: si.Name, Msg: fmt.Sprintf("tagged union members must share one tag field, got `%s` and `%s`", tt.Field, si.TagField)}
		} else if si.ArrayLike != tt.ArrayLike {
			return nil, &SchemaError{Type: si.Name, Msg: "tagged union members must all agree on array_like"}
		}
		switch v := si.Tag.(type) {
		case string:
			if prev, dup := tt.strs[v]; dup {
				return nil, &SchemaError{Type: si.Name, Msg: fmt.Sprintf("tag value '%s' is used by both %s and %s", v, prev.Name, si.Name)}
			}
			tt.strs[v] = si
		case int64:
			if prev, dup := tt.ints[v]; dup {
				return nil, &SchemaError{Type: si.Name, Msg: fmt.Sprintf("tag value %d is used by both %s and %s", v, prev.Name, si.Name)}
			}
			tt.ints[v] = si
		}
	}
	return tt, nil
}

// ============================================================
// TagCache
// ============================================================

// DefaultTagCacheSize bounds the process-wide tag table cache.
const DefaultTagCacheSize = 64

// TagCache memoizes tag tables by the unordered set of member structs.
// It is bounded and evicts in insertion order, oldest first.
//
// Thread-safe.
type TagCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List               // front = newest
	entries map[string]*list.Element // key -> element holding *tagEntry
}

type tagEntry struct {
	key   string
	table *TagTable
}

// NewTagCache returns a cache holding at most size tables (minimum 1).
func NewTagCache(size int) *TagCache {
	return &TagCache{
		maxSize: max(size, 1),
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the tag table for members, building and caching it when
// absent. Build errors are returned and not cached.
func (c *TagCache) Get(members []*StructInfo) (*TagTable, error) {
	key := sortedMemberKey(members)
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return elem.Value.(*tagEntry).table, nil
	}
	c.mu.Unlock()

	tt, err := newTagTable(members)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		return elem.Value.(*tagEntry).table, nil
	}
	c.entries[key] = c.order.PushFront(&tagEntry{key: key, table: tt})
	c.evict()
	return tt, nil
}

// Contains reports whether the member set currently has a cached table.
func (c *TagCache) Contains(members []*StructInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[sortedMemberKey(members)]
	return ok
}

// Len returns the number of cached tables.
func (c *TagCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SetSize changes the bound, evicting the oldest tables if needed.
func (c *TagCache) SetSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = max(size, 1)
	c.evict()
}

// Clear drops every cached table.
func (c *TagCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

func (c *TagCache) evict() {
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*tagEntry).key)
	}
}

var tagCache = NewTagCache(DefaultTagCacheSize)

// Tags returns the process-wide tag table cache.
func Tags() *TagCache { return tagCache }

// SetTagCacheSize changes the bound of the process-wide cache.
func SetTagCacheSize(size int) { tagCache.SetSize(size) }
