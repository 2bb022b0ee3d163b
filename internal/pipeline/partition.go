package pipeline

import "hash/fnv"

// ForKey returns the partition owning a key. The assignment is a pure
// function of the key and the partition count, so a key's state and output
// always live in exactly one partition for the life of a job.
func ForKey(key string, partitions int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(partitions))
}
