package sampler

import (
	"math"
	"math/rand/v2"
)

// initStep is the step index of the stream that draws initial positions.
// Real steps are non-negative, so it never collides with them.
const initStep = -1

// Stream returns the random stream of step step of chain chain.
// It is a pure function of its arguments: equal inputs give equal streams, and distinct (chain, step) pairs give unrelated streams.
func Stream(seed uint64, chain, step int) *rand.Rand {
	hi := splitmix(seed ^ splitmix(uint64(chain)))
	lo := splitmix(hi ^ splitmix(uint64(step)^0x5851f42d4c957f2d))
	return rand.New(rand.NewPCG(hi, lo))
}

// splitmix is the SplitMix64 finalizer.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
