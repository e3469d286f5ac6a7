package tone

import "math"

// Filter is a Goertzel filter tuned to one frequency bin for a fixed block size.
type Filter struct {
	n     int
	k     int
	coeff float64
}

// NewFilter tunes a filter to the DFT bin nearest freq for blocks of n samples.
func NewFilter(freq, sampleRate float64, n int) Filter {
	if n <= 0 || sampleRate <= 0 {
		return Filter{}
	}
	k := int(0.5 + float64(n)*freq/sampleRate)
	w := 2 * math.Pi * float64(k) / float64(n)
	return Filter{n: n, k: k, coeff: 2 * math.Cos(w)}
}

// BlockSize is the number of samples the filter was tuned for.
func (f Filter) BlockSize() int { return f.n }

// Bin is the DFT bin index the filter measures.
func (f Filter) Bin() int { return f.k }

// Power runs the Goertzel recurrence over block and returns the squared
// magnitude at the tuned bin. A sine of amplitude A sitting exactly on the bin
// yields about (A*N/2)^2.
func (f Filter) Power(block []float32) float64 {
	var s1, s2 float64 // s[n-1], s[n-2]
	for _, x := range block {
		s := float64(x) + f.coeff*s1 - s2
		s2, s1 = s1, s
	}
	return s2*s2 + s1*s1 - f.coeff*s1*s2
}

// Goertzel computes the power of samples at freq in one shot.
func Goertzel(samples []float32, freq, sampleRate float64) float64 {
	return NewFilter(freq, sampleRate, len(samples)).Power(samples)
}
