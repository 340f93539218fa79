package geometry

import "math"

// AngleTo returns the field-frame bearing from a to b, in radians.
func AngleTo(a, b Pose2D) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}

// DistanceTo returns the straight-line distance between a and b.
func DistanceTo(a, b Pose2D) float64 {
	return b.Position().Sub(a.Position()).Norm()
}

// Facing returns a pose at a's position turned to face b.
func Facing(a, b Pose2D) Pose2D {
	return NewPose(a.X, a.Y, AngleTo(a, b))
}
