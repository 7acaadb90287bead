package protocol

import "github.com/dreamware/geocache/internal/cube"

// RectToCube converts a wire-format cube<6> (x.lo x.hi y.lo y.hi t.lo
// t.hi) into a cube.Cube. The wire format carries no CRS/TimeType tags —
// every cube in this system shares the single coordinate system and
// calendar the deployment is configured for, so both are left at their
// zero value on every cube that crosses the wire.
func RectToCube(rect []float64) cube.Cube {
	return cube.Cube{
		X: cube.Interval{Lo: rect[0], Hi: rect[1]},
		Y: cube.Interval{Lo: rect[2], Hi: rect[3]},
		T: cube.Interval{Lo: rect[4], Hi: rect[5]},
	}
}

// CubeToRect is the inverse of RectToCube.
func CubeToRect(c cube.Cube) []float64 {
	return []float64{c.X.Lo, c.X.Hi, c.Y.Lo, c.Y.Hi, c.T.Lo, c.T.Hi}
}

// QueryCubeFromWire builds a cube.QueryCube from a wire rectangle plus
// the optional scale pair Query and Create carry.
func QueryCubeFromWire(rect []float64, hasScale bool, scaleX, scaleY float64) cube.QueryCube {
	q := cube.QueryCube{Cube: RectToCube(rect)}
	if hasScale {
		q.ScaleX, q.ScaleY = &scaleX, &scaleY
	}
	return q
}
