package avatar

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPicksFirstMeshWithTargets(t *testing.T) {
	l := NewLoader(DefaultTransform())
	s, err := l.Load(context.Background(), filepath.Join("testdata", "face.gltf"))
	require.NoError(t, err)

	m, ok := s.Morphs()
	require.True(t, ok)
	assert.Equal(t, "Face", s.MeshName())
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"mouthOpen", "mouthFunnel", "mouthSmile"}, m.Names())
	assert.Equal(t, 1, m.Index("mouthFunnel"))
	assert.Equal(t, -1, m.Index("jawOpen"))
	assert.Equal(t, []float32{0, 0, 0}, m.Weights())
}

func TestLoadHappensOnce(t *testing.T) {
	l := NewLoader(DefaultTransform())
	path := filepath.Join("testdata", "face.gltf")

	a, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	b, err := l.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.EqualValues(t, 1, l.opens.Load())

	ma, _ := a.Morphs()
	mb, _ := b.Morphs()
	ma.Set(0, 1)
	assert.Equal(t, float32(1), mb.Get(0))
}

func TestLoadErrors(t *testing.T) {
	l := NewLoader(DefaultTransform())

	_, err := l.Load(context.Background(), filepath.Join("testdata", "rigid.gltf"))
	assert.ErrorIs(t, err, ErrNoMorphTargets)

	_, err = l.Load(context.Background(), filepath.Join("testdata", "missing.glb"))
	assert.Error(t, err)

	s := l.Preload(filepath.Join("testdata", "rigid.gltf"))
	assert.ErrorIs(t, s.Err(), ErrNoMorphTargets)
}

func TestPreloadReportsNotLoaded(t *testing.T) {
	s := &Scene{ready: make(chan struct{})}
	_, ok := s.Morphs()
	assert.False(t, ok)
	assert.NoError(t, s.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	s.morphs = NewMorphs(2, nil)
	close(s.ready)
	_, ok = s.Morphs()
	assert.True(t, ok)
}

func TestMorphsClamp(t *testing.T) {
	m := NewMorphs(2, []string{"a"})
	assert.True(t, m.Set(0, 1.7))
	assert.True(t, m.Set(1, -0.2))
	assert.False(t, m.Set(2, 1))
	assert.Equal(t, []float32{1, 0}, m.Weights())

	w := m.Weights()
	w[0] = 0.5
	assert.Equal(t, float32(1), m.Get(0), "Weights must return a copy")

	m.Reset()
	assert.Equal(t, []float32{0, 0}, m.Weights())
	assert.Equal(t, -1, m.Index(""))
}

func TestDefaultTransformModel(t *testing.T) {
	model := DefaultTransform().Model()

	// Origin lands on the position.
	origin := model.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 0, origin.X(), 1e-5)
	assert.InDelta(t, -1.5, origin.Y(), 1e-5)
	assert.InDelta(t, 2.5, origin.Z(), 1e-5)

	// Scaled by 2 and turned half a circle about Y.
	p := model.Mul4x1(mgl32.Vec4{1, 1, 1, 1})
	assert.InDelta(t, -2, p.X(), 1e-5)
	assert.InDelta(t, 0.5, p.Y(), 1e-5)
	assert.InDelta(t, 0.5, p.Z(), 1e-5)
	assert.InDelta(t, math.Pi, float64(DefaultTransform().Rotation.Y()), 1e-6)
}

func TestCameraPlacesDefaultHead(t *testing.T) {
	p := DefaultCamera().Place(DefaultTransform(), 1)
	require.True(t, p.Visible)
	assert.InDelta(t, 0, p.X, 1e-4)
	assert.InDelta(t, 0, p.Y, 1e-4)
	// 0.5 units of head at 2.5 units through a 24 degree lens.
	assert.InDelta(t, 0.5/(2.5*math.Tan(12*math.Pi/180)), p.Radius, 1e-3)
}

func TestCameraPlacement(t *testing.T) {
	base := DefaultCamera().Place(DefaultTransform(), 1)

	far := DefaultTransform()
	far.Position = mgl32.Vec3{0, -1.5, 5}
	assert.InDelta(t, base.Radius/2, DefaultCamera().Place(far, 1).Radius, 1e-3)

	up := DefaultTransform()
	up.Position = mgl32.Vec3{0, -1.2, 2.5}
	assert.Greater(t, DefaultCamera().Place(up, 1).Y, 0.0)

	behind := DefaultTransform()
	behind.Position = mgl32.Vec3{0, -1.5, -2.5}
	assert.False(t, DefaultCamera().Place(behind, 1).Visible)

	aside := DefaultTransform()
	aside.Position = mgl32.Vec3{-5, -1.5, 2.5}
	assert.False(t, DefaultCamera().Place(aside, 1).Visible)
}
