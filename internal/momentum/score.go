// Package momentum scores a run of bars for directional movement.
package momentum

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/aureon/internal/venue"
)

// ErrInsufficientBars is returned when fewer than two usable bars are given.
var ErrInsufficientBars = errors.New("momentum: need at least two bars with positive closes")

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	Flat Direction = "flat"
)

// Signal is the scored view of one bar window.
type Signal struct {
	ChangePct   float64   `json:"change_pct"`
	Weighted    float64   `json:"weighted"`
	Surge       float64   `json:"surge"`
	Consistency float64   `json:"consistency"`
	Confidence  float64   `json:"confidence"`
	Direction   Direction `json:"direction"`
}

// PercentChange is the move from the first close to the last, in percent.
func PercentChange(bars []venue.Bar) (float64, error) {
	if len(bars) < 2 || bars[0].Close <= 0 {
		return 0, ErrInsufficientBars
	}
	first, last := bars[0].Close, bars[len(bars)-1].Close
	return (last - first) / first * 100, nil
}

// Returns are the bar-to-bar percent returns; bars with a non-positive
// previous close yield 0.
func Returns(bars []venue.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev > 0 {
			out[i-1] = (bars[i].Close - prev) / prev * 100
		}
	}
	return out
}

// WeightedMomentum is the exponentially weighted mean of bar returns. The
// newest return has weight 1 and each older one is multiplied by decay.
// decay outside (0,1] is treated as 1.
func WeightedMomentum(bars []venue.Bar, decay float64) (float64, error) {
	rets := Returns(bars)
	if len(rets) == 0 {
		return 0, ErrInsufficientBars
	}
	if decay <= 0 || decay > 1 {
		decay = 1
	}

	weights := make([]float64, len(rets))
	n := len(rets)
	for i := range weights {
		weights[i] = math.Pow(decay, float64(n-1-i))
	}
	return stat.Mean(rets, weights), nil
}

// VolumeSurge is the last bar's volume over the mean of the preceding
// bars' volumes, or 0 when that mean is zero.
func VolumeSurge(bars []venue.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	prior := make([]float64, len(bars)-1)
	for i := range prior {
		prior[i] = bars[i].Volume
	}
	avg := stat.Mean(prior, nil)
	if avg <= 0 {
		return 0
	}
	return bars[len(bars)-1].Volume / avg
}

// Consistency is the fraction of bar returns that share dir's sign.
func Consistency(bars []venue.Bar, dir Direction) float64 {
	rets := Returns(bars)
	if len(rets) == 0 || dir == Flat {
		return 0
	}
	agree := 0
	for _, r := range rets {
		if (dir == Up && r > 0) || (dir == Down && r < 0) {
			agree++
		}
	}
	return float64(agree) / float64(len(rets))
}

// Score combines move strength, consistency and volume surge into a
// confidence in [0,1]:
//
//	0.5*min(|change|/threshold, 2)/2 + 0.3*consistency + 0.2*min(surge, 3)/3
func Score(bars []venue.Bar, thresholdPct, decay float64) (Signal, error) {
	change, err := PercentChange(bars)
	if err != nil {
		return Signal{}, err
	}
	weighted, err := WeightedMomentum(bars, decay)
	if err != nil {
		return Signal{}, err
	}

	dir := Flat
	switch {
	case change > 0:
		dir = Up
	case change < 0:
		dir = Down
	}

	sig := Signal{
		ChangePct:   change,
		Weighted:    weighted,
		Surge:       VolumeSurge(bars),
		Consistency: Consistency(bars, dir),
		Direction:   dir,
	}

	strength := 0.0
	if thresholdPct > 0 {
		strength = math.Min(math.Abs(change)/thresholdPct, 2) / 2
	}
	surge := math.Min(sig.Surge, 3) / 3
	sig.Confidence = clamp(0.5*strength+0.3*sig.Consistency+0.2*surge, 0, 1)
	return sig, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
