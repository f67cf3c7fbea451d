// File: internal/bandit/sampling.go
// Description: Distribution sampling for Thompson Sampling. Beta draws are
// built from two Gamma draws (Marsaglia-Tsang) rather than a rejection loop,
// which stays correct and terminating for shape parameters below 1.

package bandit

import (
	"math"
	"math/rand"
)

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang method.
// Shapes below 1 are boosted via Gamma(a) = Gamma(a+1) * U^(1/a).
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v

		u := rng.Float64()
		// Squeeze check first; the log check only runs on the rare miss.
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// sampleBeta draws from Beta(alpha, beta) as the ratio x/(x+y) of two Gamma
// draws. The result is dimensionless in [0, 1].
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}
