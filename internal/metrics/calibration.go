package metrics

import "math"

// Prediction is a directional call with its stated confidence (0-100)
// and whether the direction turned out correct.
type Prediction struct {
	Confidence float64
	Hit        bool
}

// CalibrationBucket groups predictions by confidence decile.
type CalibrationBucket struct {
	Lower   float64 // inclusive confidence bound
	Upper   float64 // exclusive, except the last bucket which includes 100
	Count   int
	Hits    int
	HitRate float64
	// MeanConfidence is the average stated confidence as a fraction.
	MeanConfidence float64
}

// Calibrate buckets predictions into ten confidence deciles. Empty
// buckets are included so reports always have the same shape.
func Calibrate(preds []Prediction) []CalibrationBucket {
	buckets := make([]CalibrationBucket, 10)
	sums := make([]float64, 10)
	for i := range buckets {
		buckets[i].Lower = float64(i * 10)
		buckets[i].Upper = float64(i*10 + 10)
	}

	for _, p := range preds {
		i := int(math.Floor(p.Confidence / 10))
		if i < 0 {
			i = 0
		}
		if i > 9 {
			i = 9
		}
		buckets[i].Count++
		sums[i] += p.Confidence / 100
		if p.Hit {
			buckets[i].Hits++
		}
	}

	for i := range buckets {
		if buckets[i].Count > 0 {
			buckets[i].HitRate = float64(buckets[i].Hits) / float64(buckets[i].Count)
			buckets[i].MeanConfidence = sums[i] / float64(buckets[i].Count)
		}
	}
	return buckets
}

// Brier is the mean squared error between confidence (as a probability)
// and the realized outcome. Lower is better; 0 for no predictions.
func Brier(preds []Prediction) float64 {
	if len(preds) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range preds {
		y := 0.0
		if p.Hit {
			y = 1
		}
		d := p.Confidence/100 - y
		sum += d * d
	}
	return sum / float64(len(preds))
}
