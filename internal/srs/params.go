package srs

import "math"

// Params holds the FSRS-4.5 model weights and scheduling bounds.
//
// The first four weights are initial stabilities per first rating
// (Again, Hard, Good, Easy); the remainder drive difficulty updates and
// the post-success / post-lapse stability formulas.
type Params struct {
	W                [17]float64
	Decay            float64
	Factor           float64
	RequestRetention float64
	MaximumInterval  int
}

// DefaultParams returns the optimized FSRS-4.5 weight set.
func DefaultParams() Params {
	return Params{
		W: [17]float64{
			0.4,  // initial stability: Again
			0.6,  // initial stability: Hard
			2.4,  // initial stability: Good
			5.8,  // initial stability: Easy
			4.93, // difficulty seed
			0.94, // difficulty seed slope
			0.86, // difficulty step per rating
			0.01, // difficulty mean reversion
			1.49, // recall stability gain
			0.14, // recall stability decay exponent
			0.94, // recall retrievability weight
			2.18, // lapse stability base
			0.05, // lapse difficulty exponent
			0.34, // lapse stability exponent
			1.26, // lapse retrievability weight
			0.29, // hard penalty
			2.61, // easy bonus
		},
		Decay:            -0.5,
		Factor:           19.0 / 81.0,
		RequestRetention: 0.9,
		MaximumInterval:  36500,
	}
}

// Retrievability computes the modeled probability of recall after
// elapsedDays given the card's stability: R(t, S) = (1 + FACTOR*t/S)^DECAY.
// Cards with no stability yet are treated as certainly forgotten.
func (p Params) Retrievability(elapsedDays, stability float64) float64 {
	if stability <= 0 {
		return 0
	}
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	return math.Pow(1+p.Factor*elapsedDays/stability, p.Decay)
}

// interval converts stability to a review interval in whole days that hits
// the requested retention, clamped to [1, MaximumInterval]. At the default
// 90% retention this reduces to round(stability).
func (p Params) interval(stability float64) int {
	ivl := stability / p.Factor * (math.Pow(p.RequestRetention, 1.0/p.Decay) - 1)
	days := int(math.Round(ivl))
	if days < 1 {
		days = 1
	}
	if days > p.MaximumInterval {
		days = p.MaximumInterval
	}
	return days
}

func clampStability(s float64) float64 {
	return math.Max(s, 0.1)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}
