package avatar

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Model-space head the face is drawn around. Under the default transform it
// lands at the centre of the view.
var (
	HeadCenter = mgl32.Vec3{0, 0.75, 0}
	HeadRadius = float32(0.25)
)

// Camera is a perspective viewer at Position looking at Target.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3
	FOV      float32 // vertical, degrees
	Near     float32
	Far      float32
}

// DefaultCamera sits at the origin and frames a head 2.5 units away with a
// portrait lens.
func DefaultCamera() Camera {
	return Camera{
		Target: mgl32.Vec3{0, 0, 1},
		Up:     mgl32.Vec3{0, 1, 0},
		FOV:    24,
		Near:   0.1,
		Far:    100,
	}
}

func (c Camera) ViewProjection(aspect float32) mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, c.Near, c.Far)
	return proj.Mul4(mgl32.LookAtV(c.Position, c.Target, c.Up))
}

// Placement is where the head lands in normalized device coordinates:
// X and Y in [-1, 1] with Y up, Radius in units of the half height.
type Placement struct {
	X, Y    float64
	Radius  float64
	Visible bool
}

// Place projects the head through the model transform and camera.
func (c Camera) Place(t Transform, aspect float32) Placement {
	mvp := c.ViewProjection(aspect).Mul4(t.Model())
	center, ok := project(mvp, HeadCenter)
	if !ok {
		return Placement{}
	}
	top, ok := project(mvp, HeadCenter.Add(mgl32.Vec3{0, HeadRadius, 0}))
	if !ok {
		return Placement{}
	}
	dx := float64(top.X()-center.X()) * float64(aspect)
	dy := float64(top.Y() - center.Y())
	r := math.Hypot(dx, dy)
	return Placement{
		X:       float64(center.X()),
		Y:       float64(center.Y()),
		Radius:  r,
		Visible: r > 0 && math.Abs(float64(center.X())) <= 1+r && math.Abs(float64(center.Y())) <= 1+r,
	}
}

// project returns the NDC of p, or false when p is behind the camera.
func project(mvp mgl32.Mat4, p mgl32.Vec3) (mgl32.Vec3, bool) {
	clip := mvp.Mul4x1(p.Vec4(1))
	if clip.W() <= 0 {
		return mgl32.Vec3{}, false
	}
	return clip.Vec3().Mul(1 / clip.W()), true
}
