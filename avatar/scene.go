// Package avatar loads the avatar asset and exposes the face mesh's
// morph-target weights.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qmuntal/gltf"

	"soulsync/log"
)

var ErrNoMorphTargets = errors.New("no mesh with morph targets")

// Scene is one loaded asset. Until loading finishes Morphs reports not
// loaded.
type Scene struct {
	Path      string
	Transform Transform

	ready  chan struct{}
	mesh   string
	morphs *Morphs
	err    error
}

// Morphs never blocks.
func (s *Scene) Morphs() (*Morphs, bool) {
	select {
	case <-s.ready:
		return s.morphs, s.morphs != nil
	default:
		return nil, false
	}
}

// MeshName is the name of the mesh whose targets are exposed.
func (s *Scene) MeshName() string {
	select {
	case <-s.ready:
		return s.mesh
	default:
		return ""
	}
}

// Err is the load error once loading has finished.
func (s *Scene) Err() error {
	select {
	case <-s.ready:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until loading finishes and returns its error.
func (s *Scene) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loader parses each asset path at most once.
type Loader struct {
	transform Transform

	mu     sync.Mutex
	scenes map[string]*Scene
	opens  atomic.Int32
}

func NewLoader(t Transform) *Loader {
	return &Loader{transform: t, scenes: make(map[string]*Scene)}
}

// Preload starts loading path in the background and returns immediately.
func (l *Loader) Preload(path string) *Scene {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.scenes[path]; ok {
		return s
	}
	s := &Scene{Path: path, Transform: l.transform, ready: make(chan struct{})}
	l.scenes[path] = s
	go l.load(s)
	return s
}

// Load returns the scene for path once it has loaded.
func (l *Loader) Load(ctx context.Context, path string) (*Scene, error) {
	s := l.Preload(path)
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Loader) load(s *Scene) {
	defer close(s.ready)
	l.opens.Add(1)
	start := time.Now()

	doc, err := gltf.Open(s.Path)
	if err != nil {
		s.err = fmt.Errorf("open avatar %s: %w", s.Path, err)
		log.Warnf("avatar load failed: %v", s.err)
		return
	}
	mesh, names, count, ok := faceMesh(doc)
	if !ok {
		s.err = fmt.Errorf("avatar %s: %w", s.Path, ErrNoMorphTargets)
		log.Warnf("avatar load failed: %v", s.err)
		return
	}
	s.mesh = mesh
	s.morphs = NewMorphs(count, names)
	log.Infof("avatar_loaded: path=%s mesh=%s targets=%d load_ms=%d", s.Path, mesh, count, time.Since(start).Milliseconds())
}

// faceMesh picks the first mesh whose first primitive has morph targets.
func faceMesh(doc *gltf.Document) (name string, targetNames []string, count int, ok bool) {
	for _, m := range doc.Meshes {
		if len(m.Primitives) == 0 || len(m.Primitives[0].Targets) == 0 {
			continue
		}
		count = len(m.Primitives[0].Targets)
		if extras, ok := m.Extras.(map[string]interface{}); ok {
			if list, ok := extras["targetNames"].([]interface{}); ok {
				for _, n := range list {
					s, _ := n.(string)
					targetNames = append(targetNames, s)
				}
			}
		}
		return m.Name, targetNames, count, true
	}
	return "", nil, 0, false
}
