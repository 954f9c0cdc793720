package wire

// Limits bounds the allocations a decoded count or length may imply.
type Limits struct {
	MaxOps     uint32
	MaxAttrs   uint32
	MaxBlobLen uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxOps:     1024,
		MaxAttrs:   4096,
		MaxBlobLen: 64 * 1024 * 1024,
	}
}
