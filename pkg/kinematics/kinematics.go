// Package kinematics converts between wheel space and robot motion.
//
// Wheel values are linear surface speeds (or, equivalently, distances travelled
// over an interval). Robot velocities are robot-relative: X ahead, Y to the
// left, Omega counter-clockwise.
package kinematics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

var ErrWheelCount = errors.New("wrong number of wheel values")

type Kinematics interface {
	NumWheels() int
	// ForwardKinematics returns the robot velocity that best explains the wheel speeds.
	ForwardKinematics(wheels []float64) (geometry.Velocity2D, error)
	// InverseKinematics returns the wheel speeds that produce the robot velocity.
	InverseKinematics(v geometry.Velocity2D) []float64
}

// Matrix is a drivetrain described by its inverse kinematics matrix (one row
// per wheel, columns vx, vy, omega). Forward kinematics uses the
// least-squares pseudo-inverse so over-actuated drivetrains are handled.
type Matrix struct {
	inverse *mat.Dense
	forward *mat.Dense
	wheels  int
}

var _ Kinematics = (*Matrix)(nil)

// Wheel indices for a mecanum drivetrain, in the order the motor board uses.
const (
	FrontLeft = iota
	FrontRight
	BackLeft
	BackRight
)

// Wheel indices for a differential drivetrain.
const (
	Left = iota
	Right
)

// NewMecanum returns kinematics for a four-wheel mecanum chassis with rollers
// in the usual X pattern when viewed from above.
func NewMecanum(trackWidth, wheelBase float64) (*Matrix, error) {
	k := (trackWidth + wheelBase) / 2
	if !(k > 0) {
		return nil, errors.Errorf("mecanum: track width %v and wheel base %v give no lever arm", trackWidth, wheelBase)
	}
	return NewMatrix(mat.NewDense(4, 3, []float64{
		1, -1, -k, // front left
		1, 1, k, // front right
		1, 1, -k, // back left
		1, -1, k, // back right
	}))
}

// NewDifferential returns kinematics for a left/right skid or tank drive.
// Lateral velocity is not achievable and comes back as zero.
func NewDifferential(trackWidth float64) (*Matrix, error) {
	if !(trackWidth > 0) {
		return nil, errors.Errorf("differential: track width %v must be positive", trackWidth)
	}
	h := trackWidth / 2
	return NewMatrix(mat.NewDense(2, 3, []float64{
		1, 0, -h, // left
		1, 0, h, // right
	}))
}

// NewMatrix builds kinematics from an arbitrary wheels×3 inverse matrix.
func NewMatrix(inverse *mat.Dense) (*Matrix, error) {
	r, c := inverse.Dims()
	if c != 3 {
		return nil, errors.Errorf("kinematics matrix must have 3 columns, got %d", c)
	}
	forward, err := pseudoInverse(inverse)
	if err != nil {
		return nil, err
	}
	return &Matrix{inverse: inverse, forward: forward, wheels: r}, nil
}

func (m *Matrix) NumWheels() int {
	return m.wheels
}

func (m *Matrix) ForwardKinematics(wheels []float64) (geometry.Velocity2D, error) {
	if len(wheels) != m.wheels {
		return geometry.Velocity2D{}, errors.Wrapf(ErrWheelCount, "got %d, want %d", len(wheels), m.wheels)
	}
	var v mat.VecDense
	v.MulVec(m.forward, mat.NewVecDense(m.wheels, append([]float64(nil), wheels...)))
	return geometry.Velocity2D{VX: v.AtVec(0), VY: v.AtVec(1), Omega: v.AtVec(2)}, nil
}

func (m *Matrix) InverseKinematics(v geometry.Velocity2D) []float64 {
	var w mat.VecDense
	w.MulVec(m.inverse, mat.NewVecDense(3, []float64{v.VX, v.VY, v.Omega}))
	out := make([]float64, m.wheels)
	for i := range out {
		out[i] = w.AtVec(i)
	}
	return out
}

// pseudoInverse computes the Moore-Penrose inverse via SVD, dropping
// singular values that are numerically zero.
func pseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("kinematics matrix SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	sInv := mat.NewDense(len(values), len(values), nil)
	tol := 1e-9 * values[0]
	for i, s := range values {
		if s > tol {
			sInv.Set(i, i, 1/s)
		}
	}
	var vs, pinv mat.Dense
	vs.Mul(&v, sInv)
	pinv.Mul(&vs, u.T())
	return &pinv, nil
}

// Desaturate scales all wheel values by the same factor so that none exceeds
// limit in magnitude. The direction of motion is preserved.
func Desaturate(wheels []float64, limit float64) []float64 {
	out := append([]float64(nil), wheels...)
	m := 0.0
	for _, w := range out {
		m = math.Max(m, math.Abs(w))
	}
	if m <= limit || m == 0 {
		return out
	}
	scale := limit / m
	for i := range out {
		out[i] *= scale
	}
	return out
}
