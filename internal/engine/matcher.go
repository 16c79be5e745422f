package engine

import (
	"sort"
	"strings"
	"time"

	"spotcheck/internal/model"
)

// partition holds the spot indices of one channel in airing order.
type partition struct {
	channel string
	order   []int
}

func partitionSpots(spots []model.Spot) []partition {
	byChannel := make(map[string][]int)
	for i := range spots {
		ch := spots[i].Channel
		byChannel[ch] = append(byChannel[ch], i)
	}
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	out := make([]partition, 0, len(channels))
	for _, ch := range channels {
		order := byChannel[ch]
		sort.SliceStable(order, func(a, b int) bool {
			return spots[order[a]].Timestamp.Before(spots[order[b]].Timestamp)
		})
		out = append(out, partition{channel: ch, order: order})
	}
	return out
}

type creativeMatcher struct {
	mode model.MatchMode
	keys []string
	hits []bool
}

func newCreativeMatcher(spots []model.Spot, cfg model.AnalysisConfig) *creativeMatcher {
	m := &creativeMatcher{mode: cfg.CreativeMatchMode}
	switch cfg.CreativeMatchMode {
	case model.MatchContains:
		// Substring search keeps inner whitespace as written.
		needle := strings.ToLower(strings.TrimSpace(cfg.CreativeMatchText))
		m.hits = make([]bool, len(spots))
		for i := range spots {
			m.hits[i] = strings.Contains(strings.ToLower(strings.TrimSpace(spots[i].Creative)), needle)
		}
	default:
		m.keys = make([]string, len(spots))
		for i := range spots {
			m.keys[i] = spots[i].CreativeKey
		}
	}
	return m
}

func (m *creativeMatcher) match(i, j int) bool {
	if m.mode == model.MatchContains {
		return m.hits[i] && m.hits[j]
	}
	return m.keys[i] == m.keys[j]
}

type scanner struct {
	spots    []model.Spot
	creative *creativeMatcher
	sameDay  bool
}

// scan walks one partition forward, comparing each spot only with the later
// spots that aired within window of it.
func (s *scanner) scan(p partition, window time.Duration, emit func(i, j int, delta time.Duration)) {
	order := p.order
	for a := 0; a < len(order); a++ {
		i := order[a]
		ti := s.spots[i].Timestamp
		for b := a + 1; b < len(order); b++ {
			j := order[b]
			delta := s.spots[j].Timestamp.Sub(ti)
			if delta > window {
				break
			}
			if s.sameDay && !sameDate(ti, s.spots[j].Timestamp) {
				continue
			}
			if !s.creative.match(i, j) {
				continue
			}
			emit(i, j, delta)
		}
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type channelMatches struct {
	edges    []model.MatchEdge
	clusters [][]int
}

func (s *scanner) matchPartition(p partition, window time.Duration) channelMatches {
	pos := make(map[int]int, len(p.order))
	for k, idx := range p.order {
		pos[idx] = k
	}
	uf := newUnionFind(len(p.order))
	var out channelMatches
	s.scan(p, window, func(i, j int, delta time.Duration) {
		a, b := i, j
		if a > b {
			a, b = b, a
		}
		out.edges = append(out.edges, model.MatchEdge{
			A:            a,
			B:            b,
			Channel:      p.channel,
			DeltaMinutes: delta.Minutes(),
			SameProgram:  s.spots[i].Program == s.spots[j].Program && s.spots[i].Creative == s.spots[j].Creative,
		})
		uf.union(pos[i], pos[j])
	})
	if len(out.edges) == 0 {
		return out
	}
	groups := make(map[int][]int)
	var roots []int
	for k, idx := range p.order {
		if uf.size[uf.find(k)] < 2 {
			continue
		}
		r := uf.find(k)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], idx)
	}
	for _, r := range roots {
		out.clusters = append(out.clusters, groups[r])
	}
	return out
}

type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
