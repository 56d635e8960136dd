package utils

import "hash/fnv"

// HashStringToUint64 maps a string to a stable uint64. The mock
// fulfillment provider uses it to derive a deterministic completion
// schedule from an order id.
func HashStringToUint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
