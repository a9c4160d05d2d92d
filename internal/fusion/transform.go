package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// rigidTolerance bounds the determinant error accepted by IsRigid.
const rigidTolerance = 0.01

// Transform is a 4x4 homogeneous sensor-to-robot transform stored row-major:
// m00,m01,m02,m03, m10,... The last row is expected to be [0 0 0 1].
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// YawMount builds the mount transform for a range sensor whose optical axis
// lies in the robot's horizontal plane.
//
// Sensor axes follow the camera convention (x right, y down, z forward).
// Robot axes are x lateral, y forward, z up, so a sensor at yaw 0 looks
// along robot +y and yaw grows from +y towards +x, matching the polar
// angle atan2(x, y) used by ToPolar.
func YawMount(yaw, tx, ty, tz float64) Transform {
	s, c := math.Sincos(yaw)
	return Transform{
		c, 0, s, tx,
		-s, 0, c, ty,
		0, -1, 0, tz,
		0, 0, 0, 1,
	}
}

// IsZero reports whether every entry is zero, i.e. the transform was never set.
func (t Transform) IsZero() bool {
	return t == Transform{}
}

// Apply transforms the point (x, y, z) into the target frame.
func (t Transform) Apply(x, y, z float64) (rx, ry, rz float64) {
	rx = t[0]*x + t[1]*y + t[2]*z + t[3]
	ry = t[4]*x + t[5]*y + t[6]*z + t[7]
	rz = t[8]*x + t[9]*y + t[10]*z + t[11]
	return
}

// Matrix returns the transform as a gonum dense matrix. The backing array is
// copied, so callers may not mutate the Transform through it.
func (t Transform) Matrix() *mat.Dense {
	data := make([]float64, 16)
	copy(data, t[:])
	return mat.NewDense(4, 4, data)
}

// IsRigid checks for a proper rigid transform: a rotation block with
// determinant close to one and a [0 0 0 1] bottom row.
func (t Transform) IsRigid() bool {
	if !isFinite(t) {
		return false
	}
	rot := mat.NewDense(3, 3, []float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	})
	if math.Abs(mat.Det(rot)-1.0) > rigidTolerance {
		return false
	}
	return t[12] == 0 && t[13] == 0 && t[14] == 0 && math.Abs(t[15]-1.0) <= 0.001
}
