package codebook

// Status is the derived lifecycle state of a document collection.
type Status int

const (
	StatusNotExists Status = iota
	StatusEmpty
	StatusUnderChunked
	StatusIndexed
)

func (s Status) String() string {
	switch s {
	case StatusNotExists:
		return "NOT_EXISTS"
	case StatusEmpty:
		return "EMPTY"
	case StatusUnderChunked:
		return "UNDER_CHUNKED"
	case StatusIndexed:
		return "INDEXED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClassifyCount maps a point count of an existing collection to a status.
func ClassifyCount(count, threshold int) Status {
	switch {
	case count <= 0:
		return StatusEmpty
	case count < threshold:
		return StatusUnderChunked
	default:
		return StatusIndexed
	}
}
