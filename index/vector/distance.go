package vector

import "math"

// Metric selects the distance kernel of a collection.
type Metric uint8

const (
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = iota
	// MetricCosine is cosine distance (1 - cosine similarity).
	MetricCosine
	// MetricDot is negated dot product, so smaller is still better.
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	default:
		return "unknown"
	}
}

// ParseMetric maps a metric name to its Metric, defaulting to L2.
func ParseMetric(s string) Metric {
	switch s {
	case "cosine":
		return MetricCosine
	case "dot":
		return MetricDot
	default:
		return MetricL2
	}
}

// Distance computes the metric between two same-length vectors. Smaller is
// closer for every metric.
func (m Metric) Distance(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		return cosineDistance(a, b)
	case MetricDot:
		return -dot(a, b)
	default:
		return squaredL2(a, b)
	}
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func cosineDistance(a, b []float32) float32 {
	var ab, aa, bb float32
	for i := range a {
		ab += a[i] * b[i]
		aa += a[i] * a[i]
		bb += b[i] * b[i]
	}
	if aa == 0 || bb == 0 {
		return 1
	}
	return 1 - ab/float32(math.Sqrt(float64(aa)*float64(bb)))
}
