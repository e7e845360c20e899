package netstream

import "sort"

// coverage is the set of byte ranges received for one segmented packet.
// Overlapping and duplicate segments are counted once.
type coverage struct {
	spans [][2]int
}

func (c *coverage) reset() {
	c.spans = c.spans[:0]
}

func (c *coverage) empty() bool {
	return len(c.spans) == 0
}

func (c *coverage) add(start, end int) {
	if end <= start {
		return
	}
	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i][1] >= start })
	j := i
	for j < len(c.spans) && c.spans[j][0] <= end {
		if c.spans[j][0] < start {
			start = c.spans[j][0]
		}
		if c.spans[j][1] > end {
			end = c.spans[j][1]
		}
		j++
	}
	merged := append(c.spans[:i:i], [2]int{start, end})
	c.spans = append(merged, c.spans[j:]...)
}

// covers reports whether [0, n) has been received.
func (c *coverage) covers(n int) bool {
	return len(c.spans) > 0 && c.spans[0][0] == 0 && c.spans[0][1] >= n
}

func (c *coverage) total() int {
	var sum int
	for _, s := range c.spans {
		sum += s[1] - s[0]
	}
	return sum
}
