package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key computes the content-addressed cache key for an execution: a stable
// hash over the normalized payload and the backend-identifying parameters
// (flavor, profile). Function identity is deliberately excluded — two
// functions given identical effective input and execution parameters share
// one entry.
func Key(payload []byte, flavor, profile string) string {
	d := xxhash.New()
	d.Write(payload)
	// Separators keep ("ab","c") distinct from ("a","bc").
	d.Write([]byte{0})
	d.WriteString(flavor)
	d.Write([]byte{0})
	d.WriteString(profile)
	return fmt.Sprintf("%016x", d.Sum64())
}
