package utils

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand/v2"
)

// HandleError checks the error and throws a panic if the error isn't nil
func HandleError(err error) {
	if err != nil {
		fmt.Printf("|-> Error: %s\n", err.Error())
		panic("=== Panic\n ")
	}
}

// RandUint64 return a random value between 0 and 0xFFFFFFFFFFFFFFFF
func RandUint64() uint64 {
	b := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(b)
}

// NewRand returns a PCG backed generator. A zero seed draws a fresh seed
// from crypto/rand.
func NewRand(seed uint64) *mrand.Rand {
	if seed == 0 {
		seed = RandUint64()
	}
	return mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// DeriveSeed mixes a base seed with a stream index so that every client
// gets its own reproducible generator.
func DeriveSeed(base uint64, stream int) uint64 {
	if base == 0 {
		return 0
	}
	x := base + uint64(stream+1)*0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// AllFinite checks every element of vec with IsFinite.
func AllFinite(vec []float64) bool {
	for _, v := range vec {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest elementwise distance between a and b.
// The slices must have the same length.
func MaxAbsDiff(a, b []float64) float64 {
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}
