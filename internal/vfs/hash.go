// Package vfs implements the built-ins virtual file system: a content
// addressed, read-only store of resources embedded into the binary at
// build time, exposed at runtime through fd-backed virtual file handles.
package vfs

// Hash computes the DJB2 hash of uri: initial value 5381, recurrence
// h = h*33 + c. This must stay bit-for-bit identical to the image
// builder (internal/vfs/gen) since the lookup index is ordered by this
// value.
func Hash(uri string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(uri); i++ {
		h = h*33 + uint32(uri[i])
	}
	return h
}
