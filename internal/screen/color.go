package screen

import (
	"fmt"
	"image"
	"math"
	"sort"
)

// channels holds per-channel values on the 0-255 scale. They stay fractional
// until the frame is built so brightness is computed before truncation.
type channels struct {
	r, g, b float64
}

type reducer func(img *image.NRGBA) channels

const (
	AlgoAverage        = "AVERAGE"
	AlgoSquaredAverage = "SQUARED_AVERAGE"
	AlgoMedian         = "MEDIAN"
	AlgoMode           = "MODE"
)

func reducerFor(algo string) (reducer, error) {
	switch algo {
	case AlgoAverage, "":
		return averageColor, nil
	case AlgoSquaredAverage:
		return squaredAverageColor, nil
	case AlgoMedian:
		return medianColor, nil
	case AlgoMode:
		return modeColor, nil
	default:
		return nil, fmt.Errorf("unknown color algorithm: %v", algo)
	}
}

// forEachPixel walks the visible pixels of img. Alpha is ignored: captures are
// opaque.
func forEachPixel(img *image.NRGBA, fn func(r, g, b uint8)) int {
	b := img.Bounds()
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			fn(p[0], p[1], p[2])
			n++
		}
	}
	return n
}

func averageColor(img *image.NRGBA) channels {
	var sumR, sumG, sumB uint64
	n := forEachPixel(img, func(r, g, b uint8) {
		sumR += uint64(r)
		sumG += uint64(g)
		sumB += uint64(b)
	})
	if n == 0 {
		return channels{}
	}

	total := float64(n)
	return channels{
		r: float64(sumR) / total,
		g: float64(sumG) / total,
		b: float64(sumB) / total,
	}
}

// squaredAverageColor weights bright pixels more heavily than averageColor.
func squaredAverageColor(img *image.NRGBA) channels {
	var sumR, sumG, sumB uint64
	n := forEachPixel(img, func(r, g, b uint8) {
		sumR += uint64(r) * uint64(r)
		sumG += uint64(g) * uint64(g)
		sumB += uint64(b) * uint64(b)
	})
	if n == 0 {
		return channels{}
	}

	total := float64(n)
	return channels{
		r: math.Sqrt(float64(sumR) / total),
		g: math.Sqrt(float64(sumG) / total),
		b: math.Sqrt(float64(sumB) / total),
	}
}

func medianColor(img *image.NRGBA) channels {
	size := img.Bounds().Dx() * img.Bounds().Dy()
	reds := make([]uint8, 0, size)
	greens := make([]uint8, 0, size)
	blues := make([]uint8, 0, size)
	forEachPixel(img, func(r, g, b uint8) {
		reds = append(reds, r)
		greens = append(greens, g)
		blues = append(blues, b)
	})
	if len(reds) == 0 {
		return channels{}
	}

	median := func(values []uint8) float64 {
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		n := len(values)
		if n%2 == 0 {
			return float64(int(values[n/2-1])+int(values[n/2])) / 2
		}
		return float64(values[n/2])
	}

	return channels{r: median(reds), g: median(greens), b: median(blues)}
}

// modeColor returns the most frequent color. Ties go to the color that
// reached the winning count first.
func modeColor(img *image.NRGBA) channels {
	counts := make(map[[3]uint8]int)
	var mode [3]uint8
	best := 0
	forEachPixel(img, func(r, g, b uint8) {
		c := [3]uint8{r, g, b}
		counts[c]++
		if counts[c] > best {
			best = counts[c]
			mode = c
		}
	})

	return channels{r: float64(mode[0]), g: float64(mode[1]), b: float64(mode[2])}
}
