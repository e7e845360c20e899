package ch10

// headerValidator reports whether a packet header starts at window[i].
type headerValidator func(window []byte, i int) bool

// scanForward returns the first index at or after from where valid holds,
// or -1. Every byte position is tried: sync patterns can occur inside
// payload data, so no alignment is assumed.
func scanForward(window []byte, from int, valid headerValidator) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+HeaderSize <= len(window); i++ {
		if valid(window, i) {
			return i
		}
	}
	return -1
}

// scanBackward returns the largest index below limit where valid holds, or
// -1. Bytes at and after limit may still be read by the validator to
// complete a candidate header.
func scanBackward(window []byte, limit int, valid headerValidator) int {
	if limit > len(window) {
		limit = len(window)
	}
	for i := limit - 1; i >= 0; i-- {
		if valid(window, i) {
			return i
		}
	}
	return -1
}
