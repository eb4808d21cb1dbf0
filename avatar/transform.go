package avatar

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Transform places the avatar in front of the camera.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Vec3 // radians, applied X then Y then Z
	Scale    float32
}

func DefaultTransform() Transform {
	return Transform{
		Position: mgl32.Vec3{0, -1.5, 2.5},
		Rotation: mgl32.Vec3{0, math.Pi, 0},
		Scale:    2,
	}
}

func (t Transform) Model() mgl32.Mat4 {
	model := mgl32.Translate3D(t.Position[0], t.Position[1], t.Position[2])
	model = model.Mul4(mgl32.HomogRotate3DX(t.Rotation[0]))
	model = model.Mul4(mgl32.HomogRotate3DY(t.Rotation[1]))
	model = model.Mul4(mgl32.HomogRotate3DZ(t.Rotation[2]))
	return model.Mul4(mgl32.Scale3D(t.Scale, t.Scale, t.Scale))
}
