package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RobotPoint is a point in the robot frame, metres.
type RobotPoint struct {
	X, Y, Z float64
}

// PolarPoint is a robot-centred polar observation. Angle is in (−π, π],
// Distance in metres.
type PolarPoint struct {
	Angle    float64
	Distance float64
}

// Project reprojects one scanline into the robot frame. Pixel i with depth z
// becomes the sensor-space ray (-(i - res/2)·z/focal, 0, z, 1), which is then
// multiplied by mount. Every pixel yields a point; zero or negative depths
// are not filtered here.
func Project(cfg SensorConfig, mount Transform, depths []float64) []RobotPoint {
	m := mount.Matrix()
	semiwidth := float64(cfg.Resolution) / 2

	local := mat.NewVecDense(4, nil)
	var world mat.VecDense

	points := make([]RobotPoint, len(depths))
	for i, z := range depths {
		local.SetVec(0, -(float64(i)-semiwidth)*z/cfg.Focal)
		local.SetVec(1, 0)
		local.SetVec(2, z)
		local.SetVec(3, 1)
		world.MulVec(m, local)
		points[i] = RobotPoint{X: world.AtVec(0), Y: world.AtVec(1), Z: world.AtVec(2)}
	}
	return points
}

// ToPolar converts a robot-frame point to polar form. The angle is measured
// from robot +y towards +x, and the distance is the full 3D norm so that a
// vertical residual from the mount is kept in the range magnitude.
func ToPolar(p RobotPoint) PolarPoint {
	return PolarPoint{
		Angle:    math.Atan2(p.X, p.Y),
		Distance: math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z),
	}
}
