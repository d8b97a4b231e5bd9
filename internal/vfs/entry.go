package vfs

import (
	"sort"
	"sync"
)

// hashIndexThreshold mirrors HASH_INDEX_THRESHOLD from the original
// buildins.h: below this many entries a binary search over the
// hash-sorted slice is cheaper to build and just as fast to query.
const hashIndexThreshold = 50

// Entry is the canonical unit of the built-ins VFS: a stable URI, its
// DJB2 hash, a reference to the compressed payload, and the lazily
// populated decompression cache and virtual-file handle. Entries are
// immutable after image build except for the cache and reference-count
// fields guarded by mu.
type Entry struct {
	URI        string
	Hash       uint32
	IsDir      bool
	Compressed []byte // nil for directories; the reserved "no payload" pointer
	OrigSize   int64

	mu           sync.Mutex
	decompressed []byte // cached; nil until first Decompressed() call
	decompressedOK bool // distinguishes "not yet decompressed" from a 0-byte cache
	vfile        *VFile
	vrefs        int
}

// Index is the built-ins lookup structure: either a hash table keyed by
// Hash % (number of entries) with chaining (for images with at least
// hashIndexThreshold entries) or a plain hash-sorted slice searched by
// binary search. Which strategy is active is a deterministic function of
// entry count, fixed for the lifetime of the image.
type Index struct {
	sorted   []*Entry            // always populated, sorted by (Hash, URI)
	buckets  map[uint32][]*Entry // non-nil only when useTable is true
	useTable bool
}

// NewIndex builds an Index over entries. It does not mutate entries.
func NewIndex(entries []*Entry) *Index {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Hash != sorted[j].Hash {
			return sorted[i].Hash < sorted[j].Hash
		}
		return sorted[i].URI < sorted[j].URI
	})

	idx := &Index{sorted: sorted}
	if len(sorted) >= hashIndexThreshold {
		idx.useTable = true
		tableSize := uint32(len(sorted))
		idx.buckets = make(map[uint32][]*Entry, tableSize)
		for _, e := range sorted {
			bucket := e.Hash % tableSize
			idx.buckets[bucket] = append(idx.buckets[bucket], e)
		}
	}
	return idx
}

// Find looks up uri, returning (entry, true) on a hit. Lookup is
// deterministic for a given built image regardless of which strategy
// backs it.
func (idx *Index) Find(uri string) (*Entry, bool) {
	h := Hash(uri)
	if idx.useTable {
		bucket := h % uint32(len(idx.sorted))
		for _, e := range idx.buckets[bucket] {
			if e.Hash == h && e.URI == uri {
				return e, true
			}
		}
		return nil, false
	}

	// Binary search on Hash, then linear scan across the tie run
	// comparing full URIs (a strcmp-directed half-step in the original
	// C; a linear scan over the (small) tie run is its Go equivalent).
	lo, hi := 0, len(idx.sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if idx.sorted[mid].Hash < h {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	for i := lo; i < len(idx.sorted) && idx.sorted[i].Hash == h; i++ {
		if idx.sorted[i].URI == uri {
			return idx.sorted[i], true
		}
	}
	return nil, false
}

// Len reports the number of entries in the index.
func (idx *Index) Len() int { return len(idx.sorted) }
