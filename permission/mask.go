package permission

// Mask is the set of permission bits granted to one role.
type Mask uint64

func inRange(bit int) bool { return bit >= 0 && bit < maxBits }

func (m Mask) Has(bit int) bool {
	return inRange(bit) && m&(1<<bit) != 0
}

// With returns m plus bit. Out-of-range bits are ignored.
func (m Mask) With(bit int) Mask {
	if !inRange(bit) {
		return m
	}
	return m | 1<<bit
}

func (m Mask) Without(bit int) Mask {
	if !inRange(bit) {
		return m
	}
	return m &^ (1 << bit)
}
