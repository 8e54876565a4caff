package world

import (
	"math"
)

// Deterministic 3D simplex noise with a fractal (FBM) sum on top.
// The permutation table is shuffled from the seed with an integer hash.

func hash2(x int64, z int64, seed int64) uint64 {
	// SplitMix64 style integer hash, stable across runs for same inputs
	v := uint64(x) + (uint64(z) << 1) + uint64(seed)*0x9E3779B97F4A7C15
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	v = v ^ (v >> 31)
	return v
}

var grad3 = [12][3]float64{
	{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
	{1, 0, 1}, {-1, 0, 1}, {1, 0, -1}, {-1, 0, -1},
	{0, 1, 1}, {0, -1, 1}, {0, 1, -1}, {0, -1, -1},
}

// Simplex evaluates 3D simplex noise in roughly [-1, 1].
type Simplex struct {
	perm [512]uint8
}

// NewSimplex builds the permutation table for seed.
func NewSimplex(seed int64) *Simplex {
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}
	for i := len(p) - 1; i > 0; i-- {
		j := int(hash2(int64(i), 0, seed) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}
	s := &Simplex{}
	for i := range s.perm {
		s.perm[i] = p[i&255]
	}
	return s
}

const (
	skew3   = 1.0 / 3.0
	unskew3 = 1.0 / 6.0
)

func corner(t, x, y, z float64, g int) float64 {
	t -= x*x + y*y + z*z
	if t < 0 {
		return 0
	}
	t *= t
	gr := grad3[g]
	return t * t * (gr[0]*x + gr[1]*y + gr[2]*z)
}

// Noise3 samples the field at (x, y, z).
func (s *Simplex) Noise3(x, y, z float64) float64 {
	sk := (x + y + z) * skew3
	i := int(math.Floor(x + sk))
	j := int(math.Floor(y + sk))
	k := int(math.Floor(z + sk))

	t := float64(i+j+k) * unskew3
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)
	z0 := z - (float64(k) - t)

	var i1, j1, k1, i2, j2, k2 int
	if x0 >= y0 {
		switch {
		case y0 >= z0:
			i1, j1, k1, i2, j2, k2 = 1, 0, 0, 1, 1, 0
		case x0 >= z0:
			i1, j1, k1, i2, j2, k2 = 1, 0, 0, 1, 0, 1
		default:
			i1, j1, k1, i2, j2, k2 = 0, 0, 1, 1, 0, 1
		}
	} else {
		switch {
		case y0 < z0:
			i1, j1, k1, i2, j2, k2 = 0, 0, 1, 0, 1, 1
		case x0 < z0:
			i1, j1, k1, i2, j2, k2 = 0, 1, 0, 0, 1, 1
		default:
			i1, j1, k1, i2, j2, k2 = 0, 1, 0, 1, 1, 0
		}
	}

	x1 := x0 - float64(i1) + unskew3
	y1 := y0 - float64(j1) + unskew3
	z1 := z0 - float64(k1) + unskew3
	x2 := x0 - float64(i2) + 2*unskew3
	y2 := y0 - float64(j2) + 2*unskew3
	z2 := z0 - float64(k2) + 2*unskew3
	x3 := x0 - 1 + 3*unskew3
	y3 := y0 - 1 + 3*unskew3
	z3 := z0 - 1 + 3*unskew3

	ii, jj, kk := i&255, j&255, k&255
	p := &s.perm
	g0 := int(p[ii+int(p[jj+int(p[kk])])]) % 12
	g1 := int(p[ii+i1+int(p[jj+j1+int(p[kk+k1])])]) % 12
	g2 := int(p[ii+i2+int(p[jj+j2+int(p[kk+k2])])]) % 12
	g3 := int(p[ii+1+int(p[jj+1+int(p[kk+1])])]) % 12

	n := corner(0.6, x0, y0, z0, g0) +
		corner(0.6, x1, y1, z1, g1) +
		corner(0.6, x2, y2, z2, g2) +
		corner(0.6, x3, y3, z3, g3)
	return 32 * n
}

// Fractal sums octaves of simplex noise. Each octave multiplies the
// frequency by Lacunarity and the amplitude by Gain; the sum is scaled so
// the result stays near [-1, 1].
type Fractal struct {
	simplex    *Simplex
	frequency  float64
	octaves    int
	lacunarity float64
	gain       float64
	bounding   float64
}

// NewFractal creates a fractal noise source.
func NewFractal(seed int64, frequency float64, octaves int, lacunarity, gain float64) *Fractal {
	octaves = max(octaves, 1)
	amp, total := 1.0, 1.0
	for range octaves - 1 {
		amp *= gain
		total += amp
	}
	return &Fractal{
		simplex:    NewSimplex(seed),
		frequency:  frequency,
		octaves:    octaves,
		lacunarity: lacunarity,
		gain:       gain,
		bounding:   1 / total,
	}
}

// Sample evaluates the fractal at (x, y, z).
func (f *Fractal) Sample(x, y, z float64) float64 {
	x *= f.frequency
	y *= f.frequency
	z *= f.frequency
	sum := f.simplex.Noise3(x, y, z)
	amp := 1.0
	for range f.octaves - 1 {
		x *= f.lacunarity
		y *= f.lacunarity
		z *= f.lacunarity
		amp *= f.gain
		sum += f.simplex.Noise3(x, y, z) * amp
	}
	return sum * f.bounding
}
