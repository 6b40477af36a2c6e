// Package identity assigns behavioral identities to module runs. An
// identity is a hash of what a module did, not what it is called plus a
// version string: runs of an unchanged module land in the same identity
// because their traits round into the same buckets, and a module whose
// behavior drifts earns a new identity without anyone renaming anything.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"

	"explorer/internal/metrics"
)

// ID is a 16 hex character behavioral identity.
type ID string

// Buckets sets the trait rounding granularity. Coarse buckets keep run
// to run jitter from fragmenting identity.
type Buckets struct {
	// DurationMs is the duration bucket width in milliseconds.
	DurationMs float64

	// MemoryMB is the memory bucket width in megabytes.
	MemoryMB float64
}

// DefaultBuckets matches the config defaults: 10ms and 1MB.
func DefaultBuckets() Buckets {
	return Buckets{DurationMs: 10, MemoryMB: 1}
}

// canonical is hashed in exactly this shape. Field order is the sorted
// key order of the serialized form; changing anything here changes every
// identity ever assigned.
type canonical struct {
	DurationBucket int64   `json:"duration_bucket"`
	MemoryBucket   int64   `json:"memory_bucket"`
	Name           string  `json:"name"`
	Reliability    float64 `json:"reliability"`
}

// Assign derives the identity for a module's trait vector: sha256 over
// the canonical serialization of (name, bucketed duration, bucketed
// memory, reliability), truncated to 16 hex characters. Deterministic
// for equal inputs. Two modules with coincidentally equal bucketed
// traits share an identity; identity is behavioral, not nominal.
func Assign(moduleName string, tv metrics.TraitVector, b Buckets) ID {
	if b.DurationMs <= 0 {
		b.DurationMs = DefaultBuckets().DurationMs
	}
	if b.MemoryMB <= 0 {
		b.MemoryMB = DefaultBuckets().MemoryMB
	}

	c := canonical{
		DurationBucket: bucket(tv.DurationMs, b.DurationMs),
		MemoryBucket:   bucket(tv.MemoryMB, b.MemoryMB),
		Name:           moduleName,
		Reliability:    tv.Reliability,
	}

	// Struct field order fixes the key order, so this marshal is
	// canonical without a sort pass.
	data, err := json.Marshal(c)
	if err != nil {
		// Marshaling a flat struct of primitives cannot fail.
		panic(err)
	}

	sum := sha256.Sum256(data)
	return ID(hex.EncodeToString(sum[:])[:16])
}

// bucket rounds a value to its nearest bucket index.
func bucket(v, width float64) int64 {
	return int64(math.Round(v / width))
}
