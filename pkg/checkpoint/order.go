package checkpoint

import "sort"

// newer reports whether a is more recent than b: by time, then by
// sequence when two rows share a timestamp.
func newer(a, b Checkpoint) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.After(b.Time)
	}
	return a.Sequence > b.Sequence
}

func latest(history []Checkpoint) Checkpoint {
	best := history[0]
	for _, cp := range history[1:] {
		if newer(cp, best) {
			best = cp
		}
	}
	return best
}

func newestFirst(history []Checkpoint, limit int) []Checkpoint {
	out := append([]Checkpoint(nil), history...)
	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i], out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
