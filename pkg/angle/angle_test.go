package angle

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	expectNormalized(t, 0, 0)
	expectNormalized(t, math.Pi, math.Pi)
	expectNormalized(t, -math.Pi, math.Pi)
	expectNormalized(t, 2*math.Pi, 0)
	expectNormalized(t, 2*math.Pi+0.1, 0.1)
	expectNormalized(t, 2*math.Pi-0.1, -0.1)
	expectNormalized(t, -2*math.Pi-0.1, -0.1)
	expectNormalized(t, 1.5*math.Pi, -0.5*math.Pi)
	expectNormalized(t, -1.5*math.Pi, 0.5*math.Pi)
	expectNormalized(t, 100*math.Pi+0.25, 0.25)
}

func expectNormalized(t *testing.T, in, expected float64) {
	t.Helper()
	out := Normalize(in)
	if out <= -math.Pi || out > math.Pi {
		t.Errorf("Out of range: %f -> %f", in, out)
	}
	if math.Abs(out-expected) > 1e-9 {
		t.Errorf("Not equal to expected value: %f -> %f, expected %f", in, out, expected)
	}
}

func TestDiffTakesShortestWay(t *testing.T) {
	if d := Diff(-3, 3); math.Abs(d-(2*math.Pi-6)) > 1e-9 {
		t.Errorf("Diff(-3, 3) = %f", d)
	}
	if d := Diff(0.5, -0.5); math.Abs(d-1) > 1e-9 {
		t.Errorf("Diff(0.5, -0.5) = %f", d)
	}
}

func TestLerpAcrossWrap(t *testing.T) {
	mid := Lerp(math.Pi-0.2, -math.Pi+0.2, 0.5)
	if math.Abs(math.Abs(mid)-math.Pi) > 1e-9 {
		t.Errorf("Expected midpoint at ±π, got %f", mid)
	}
	if l := Lerp(0, 1, 0.25); math.Abs(l-0.25) > 1e-9 {
		t.Errorf("Lerp(0, 1, 0.25) = %f", l)
	}
}

func TestAddSub(t *testing.T) {
	a := FromFloat(3)
	b := FromFloat(1)
	if s := a.Add(b).Float(); math.Abs(s-(4-2*math.Pi)) > 1e-9 {
		t.Errorf("3+1 = %f", s)
	}
	if s := b.Sub(a).Float(); math.Abs(s+2) > 1e-9 {
		t.Errorf("1-3 = %f", s)
	}
}
