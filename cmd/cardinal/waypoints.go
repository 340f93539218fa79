package main

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

// Waypoint is a pose given on the command line as "x,y" or "x,y,heading"
// with the heading in degrees.
type Waypoint geometry.Pose2D

func (w *Waypoint) UnmarshalText(text []byte) error {
	p, err := parseWaypoint(string(text))
	if err != nil {
		return err
	}
	*w = Waypoint(p)
	return nil
}

func parseWaypoint(s string) (geometry.Pose2D, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return geometry.Pose2D{}, errors.Errorf("waypoint %q: want x,y or x,y,heading", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Pose2D{}, errors.Wrapf(err, "waypoint %q", s)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geometry.Pose2D{}, errors.Errorf("waypoint %q: %v is not a finite number", s, v)
		}
		vals[i] = v
	}
	return geometry.NewPose(vals[0], vals[1], vals[2]*math.Pi/180), nil
}

func poses(start Waypoint, ws []Waypoint) []geometry.Pose2D {
	out := []geometry.Pose2D{geometry.Pose2D(start)}
	for _, w := range ws {
		out = append(out, geometry.Pose2D(w))
	}
	return out
}
