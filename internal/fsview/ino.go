package fsview

import "hash/fnv"

// inoFromString derives a stable inode number from a real filesystem path
// so the same source file always maps to the same inode across lookups
// (adapted from the teacher's internal/vodfs/ino.go).
func inoFromString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
