package textproc

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// SimilarityFunc scores two strings in [0, 1], where 1 means identical.
// Implementations must compare case-insensitively.
type SimilarityFunc func(a, b string) float64

// Similarity strategy names accepted by SimilarityByName.
const (
	SimilarityRatcliff    = "ratcliff"
	SimilarityJaroWinkler = "jarowinkler"
)

// SimilarityByName resolves a configured strategy name.
// An empty name selects Ratio.
func SimilarityByName(name string) (SimilarityFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SimilarityRatcliff:
		return Ratio, nil
	case SimilarityJaroWinkler:
		return JaroWinkler, nil
	default:
		return nil, fmt.Errorf("unknown similarity strategy %q", name)
	}
}

// JaroWinkler scores a and b with case-insensitive Jaro-Winkler similarity.
// Its scores run noticeably higher than Ratio on short captions, so a
// duplicate threshold tuned for Ratio is too aggressive here.
func JaroWinkler(a, b string) float64 {
	return matchr.JaroWinkler(strings.ToLower(a), strings.ToLower(b), false)
}

// Ratio returns the Ratcliff/Obershelp matching-blocks ratio 2*M/(len(a)+len(b))
// of the lowercased inputs, where M is the total size of the matching blocks
// found by recursively taking the longest common block and recursing on both
// sides of it. Lengths are counted in runes.
//
// The scoring matches Python's difflib.SequenceMatcher(None, a, b).ratio(),
// including its auto-junk heuristic: when b has 200 or more runes, runes
// occurring more than len(b)/100+1 times are not used to seed matches.
//
// Complexity is O(len(a)*len(b)) in the worst case and close to linear for
// typical caption text.
func Ratio(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	m := newMatcher(ra, rb)
	return 2.0 * float64(m.matchedRunes()) / float64(total)
}

type matcher struct {
	a, b []rune
	b2j  map[rune][]int
}

func newMatcher(a, b []rune) *matcher {
	b2j := make(map[rune][]int)
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}
	if n := len(b); n >= 200 {
		popular := n/100 + 1
		for r, idx := range b2j {
			if len(idx) > popular {
				delete(b2j, r)
			}
		}
	}
	return &matcher{a: a, b: b, b2j: b2j}
}

type span struct {
	alo, ahi, blo, bhi int
}

func (m *matcher) matchedRunes() int {
	matched := 0
	queue := []span{{0, len(m.a), 0, len(m.b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := m.longestMatch(s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] inside the given
// bounds, preferring the earliest start in a, then in b.
func (m *matcher) longestMatch(alo, ahi, blo, bhi int) (int, int, int) {
	besti, bestj, bestk := alo, blo, 0
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		next := map[int]int{}
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}

	// Runes dropped by the auto-junk heuristic can still extend a block.
	for besti > alo && bestj > blo && m.a[besti-1] == m.b[bestj-1] {
		besti, bestj, bestk = besti-1, bestj-1, bestk+1
	}
	for besti+bestk < ahi && bestj+bestk < bhi && m.a[besti+bestk] == m.b[bestj+bestk] {
		bestk++
	}
	return besti, bestj, bestk
}
