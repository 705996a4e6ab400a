package scheduler

// Conflicts reports whether two units may not run in the same batch.
// The rule is pessimistic: each unit's writes must be disjoint from the
// other's writes and reads. Read/read overlap never conflicts. A unit
// with no declared manifest at all conflicts with everything.
func Conflicts(a, b *DispatchUnit) bool {
	if a.EmptyManifest() || b.EmptyManifest() {
		return true
	}
	if intersects(a.Writes, b.Writes) || intersects(a.Writes, b.Reads) {
		return true
	}
	return intersects(b.Writes, a.Reads)
}

func intersects(xs, ys []string) bool {
	if len(xs) == 0 || len(ys) == 0 {
		return false
	}
	set := make(map[string]bool, len(xs))
	for _, x := range xs {
		set[x] = true
	}
	for _, y := range ys {
		if set[y] {
			return true
		}
	}
	return false
}

// BuildBatch greedily collects the largest conflict-free batch from the
// ready set in stable order, capped at maxParallel. An empty-manifest
// unit at the head of the set forms a solo batch; anywhere later it
// simply waits for its own cycle.
func BuildBatch(ready []*DispatchUnit, maxParallel int) []*DispatchUnit {
	if maxParallel < 1 {
		maxParallel = 1
	}

	var batch []*DispatchUnit
	for _, candidate := range ready {
		if len(batch) >= maxParallel {
			break
		}
		safe := true
		for _, member := range batch {
			if Conflicts(candidate, member) {
				safe = false
				break
			}
		}
		if safe {
			batch = append(batch, candidate)
		}
	}
	return batch
}
