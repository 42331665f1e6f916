package align

import "sort"

// MatchBlock is a run of Size identical runes starting at offset Ref in the
// reference sequence and at offset Cand in the candidate sequence.
type MatchBlock struct {
	Ref  int `json:"ref"`
	Cand int `json:"cand"`
	Size int `json:"size"`
}

// Match returns the non-overlapping matching blocks between a and b, ordered
// by ascending Ref.
//
// The longest common substring is taken first, then the regions to its left
// and to its right are searched the same way, recursively. When several
// substrings share the maximal length the one starting earliest in a wins,
// then the one starting earliest in b. Blocks that touch in both sequences
// are merged. Empty input or no common rune yields nil.
func Match(a, b []rune) []MatchBlock {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	m := newMatcher(a, b)

	type span struct{ alo, ahi, blo, bhi int }

	var blocks []MatchBlock
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		sp := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		blk := m.longest(sp.alo, sp.ahi, sp.blo, sp.bhi)
		if blk.Size == 0 {
			continue
		}
		blocks = append(blocks, blk)
		if sp.alo < blk.Ref && sp.blo < blk.Cand {
			queue = append(queue, span{sp.alo, blk.Ref, sp.blo, blk.Cand})
		}
		if blk.Ref+blk.Size < sp.ahi && blk.Cand+blk.Size < sp.bhi {
			queue = append(queue, span{blk.Ref + blk.Size, sp.ahi, blk.Cand + blk.Size, sp.bhi})
		}
	}
	if len(blocks) == 0 {
		return nil
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Ref < blocks[j].Ref })

	merged := blocks[:1]
	for _, blk := range blocks[1:] {
		last := &merged[len(merged)-1]
		if last.Ref+last.Size == blk.Ref && last.Cand+last.Size == blk.Cand {
			last.Size += blk.Size
			continue
		}
		merged = append(merged, blk)
	}
	return merged
}

// matcher holds the scratch rows reused by every longest call of one Match.
type matcher struct {
	a   []rune
	b2j map[rune][]int // rune -> ascending offsets in b

	// prev[j+1] is the length of the longest match ending at a[i-1] and b[j];
	// cur is filled for a[i]. Only the offsets listed in the matching
	// touched slice are non-zero.
	prev, cur               []int
	touchedPrev, touchedCur []int
}

func newMatcher(a, b []rune) *matcher {
	m := &matcher{
		a:    a,
		b2j:  make(map[rune][]int),
		prev: make([]int, len(b)+1),
		cur:  make([]int, len(b)+1),
	}
	for j, r := range b {
		m.b2j[r] = append(m.b2j[r], j)
	}
	return m
}

// longest finds the longest block a[alo:ahi] == b[blo:bhi].
func (m *matcher) longest(alo, ahi, blo, bhi int) MatchBlock {
	best := MatchBlock{Ref: alo, Cand: blo}

	for i := alo; i < ahi; i++ {
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := m.prev[j] + 1
			m.cur[j+1] = k
			m.touchedCur = append(m.touchedCur, j+1)
			if k > best.Size {
				best = MatchBlock{Ref: i - k + 1, Cand: j - k + 1, Size: k}
			}
		}
		m.clearPrev()
		m.prev, m.cur = m.cur, m.prev
		m.touchedPrev, m.touchedCur = m.touchedCur, m.touchedPrev
	}
	m.clearPrev()
	return best
}

func (m *matcher) clearPrev() {
	for _, j := range m.touchedPrev {
		m.prev[j] = 0
	}
	m.touchedPrev = m.touchedPrev[:0]
}
