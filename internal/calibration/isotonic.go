// Package calibration fits and applies monotone calibration curves.
package calibration

import (
	"errors"
	"math"
	"sort"
)

// ErrNoSamples is returned when a fit is attempted without data
var ErrNoSamples = errors.New("no samples to fit")

// Sample is one (raw probability, indicator) training pair
type Sample struct {
	Raw       float64
	Indicator float64
}

// block is a run of pooled points with equal fitted value
type block struct {
	minX, maxX float64
	sumY       float64
	weight     float64
}

func (b block) mean() float64 {
	return b.sumY / b.weight
}

// FitIsotonic runs pool-adjacent-violators on samples sorted by raw value and
// returns the breakpoints of the fitted non-decreasing function. Samples with
// equal raw values are pooled before fitting.
func FitIsotonic(samples []Sample) (xs, ys []float64, err error) {
	if len(samples) == 0 {
		return nil, nil, ErrNoSamples
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Raw < sorted[j].Raw
	})

	// Tie pooling
	var blocks []block
	for _, s := range sorted {
		x := clamp01(s.Raw)
		if n := len(blocks); n > 0 && blocks[n-1].maxX == x {
			blocks[n-1].sumY += s.Indicator
			blocks[n-1].weight++
			continue
		}
		blocks = append(blocks, block{minX: x, maxX: x, sumY: s.Indicator, weight: 1})
	}

	// PAV: merge backwards while the last block violates monotonicity
	stack := make([]block, 0, len(blocks))
	for _, b := range blocks {
		stack = append(stack, b)
		for len(stack) > 1 {
			last := stack[len(stack)-1]
			prev := stack[len(stack)-2]
			if prev.mean() <= last.mean() {
				break
			}
			stack = stack[:len(stack)-2]
			stack = append(stack, block{
				minX:   prev.minX,
				maxX:   last.maxX,
				sumY:   prev.sumY + last.sumY,
				weight: prev.weight + last.weight,
			})
		}
	}

	for _, b := range stack {
		y := b.mean()
		xs = append(xs, b.minX)
		ys = append(ys, y)
		if b.maxX > b.minX {
			xs = append(xs, b.maxX)
			ys = append(ys, y)
		}
	}
	xs, ys = simplify(xs, ys)
	return xs, ys, nil
}

// simplify drops interior points that lie on a flat run
func simplify(xs, ys []float64) ([]float64, []float64) {
	if len(xs) <= 2 {
		return xs, ys
	}
	outX := []float64{xs[0]}
	outY := []float64{ys[0]}
	for i := 1; i < len(xs)-1; i++ {
		if ys[i] == outY[len(outY)-1] && ys[i] == ys[i+1] {
			continue
		}
		outX = append(outX, xs[i])
		outY = append(outY, ys[i])
	}
	outX = append(outX, xs[len(xs)-1])
	outY = append(outY, ys[len(ys)-1])
	return outX, outY
}

// Interpolate evaluates the piecewise-linear function through (xs, ys) at x.
// Values outside the breakpoint range take the nearest end value.
func Interpolate(xs, ys []float64, x float64) float64 {
	n := len(xs)
	if n == 0 {
		return x
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}

	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		// Rightmost breakpoint on a vertical jump
		for i+1 < n && xs[i+1] == x {
			i++
		}
		return ys[i]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	if x1 == x0 {
		return y1
	}
	return y0 + (x-x0)/(x1-x0)*(y1-y0)
}

// Clamp bounds p into [minP, 1-minP]
func Clamp(p, minP float64) float64 {
	if math.IsNaN(p) {
		return minP
	}
	return math.Max(minP, math.Min(1-minP, p))
}

func clamp01(x float64) float64 {
	return Clamp(x, 0)
}
