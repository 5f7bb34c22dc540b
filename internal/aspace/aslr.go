package aspace

import (
	"math/rand/v2"

	"github.com/k23-systems/kcore/internal/addr"
	"github.com/k23-systems/kcore/internal/kmath"
)

// findSpotFor is the Go rendering of kmem-aslr's find_spot_for: given the
// gaps between existing regions (in ascending address order) and a
// requested size/align, it finds a spot satisfying the layout in at most
// two passes over gaps. rng nil disables randomization and yields the
// lowest-address-first policy (target_index = 0 throughout).
//
// Pass 1: draw a random target index over the whole virtual address
// space (2^virtAddrBits candidate offsets) and walk the gaps, picking
// the target_index'th candidate slot in whichever gap contains it.
// Pass 2: if no gap had that many slots, the first pass counted the true
// total number of candidate slots; redraw a target index in that
// (necessarily non-empty, unless it's zero) range and repeat, which is
// guaranteed to land in some gap.
func findSpotFor(size, align uintptr, gaps []addr.Range, virtAddrBits uint, rng *rand.Rand) (addr.Virt, bool) {
	size = kmath.Roundup(size, align)

	maxCandidateSpots := (uint64(1) << virtAddrBits) - 1
	targetIndex := randUint64n(rng, maxCandidateSpots)

	spot, candidateSpots, ok := chooseSpot(size, align, gaps, targetIndex)
	if ok {
		return spot, true
	}
	if candidateSpots == 0 {
		return 0, false
	}

	targetIndex = randUint64n(rng, candidateSpots)
	spot, _, ok = chooseSpot(size, align, gaps, targetIndex)
	if !ok {
		panic("aspace: aslr second pass failed to find a spot it just counted")
	}
	return spot, true
}

// chooseSpot walks gaps in order, consuming targetIndex candidate slots
// per gap until it lands in one. It always returns the total candidate
// count it saw, whether or not it found a spot, so find_spot_for's
// second pass can reuse it.
func chooseSpot(size, align uintptr, gaps []addr.Range, targetIndex uint64) (addr.Virt, uint64, bool) {
	var candidateSpots uint64
	for _, gap := range gaps {
		aligned := addr.Range{
			Start: gap.Start.AlignUp(align),
			End:   gap.End.AlignDown(align),
		}
		spots := spotsInRange(size, align, aligned)
		candidateSpots += spots
		if targetIndex < spots {
			return aligned.Start.Add(uintptr(targetIndex) * align), candidateSpots, true
		}
		targetIndex -= spots
	}
	return 0, candidateSpots, false
}

// spotsInRange returns the number of distinct offsets within the
// (already alignment-trimmed) range at which a size-byte, align-aligned
// allocation fits.
func spotsInRange(size, align uintptr, r addr.Range) uint64 {
	if r.Empty() {
		return 0
	}
	n := r.Len()
	if n < size {
		return 0
	}
	return uint64((n-size)/align) + 1
}

// randUint64n draws a value in [0, n). rng == nil or n == 0 always
// yields 0, giving the ASLR-disabled / degenerate-range behavior.
func randUint64n(rng *rand.Rand, n uint64) uint64 {
	if rng == nil || n == 0 {
		return 0
	}
	return rng.Uint64N(n)
}
