package avatar

import "sync"

// Morphs is the live morph-target weight array of the avatar's face mesh.
// Every holder shares the same array.
type Morphs struct {
	mu      sync.RWMutex
	names   []string
	weights []float32
}

func NewMorphs(count int, names []string) *Morphs {
	n := make([]string, count)
	copy(n, names)
	return &Morphs{names: n, weights: make([]float32, count)}
}

func (m *Morphs) Len() int { return len(m.weights) }

// Set clamps w to [0, 1]. Out-of-range indices report false.
func (m *Morphs) Set(i int, w float32) bool {
	if i < 0 || i >= len(m.weights) {
		return false
	}
	w = min(max(w, 0), 1)
	m.mu.Lock()
	m.weights[i] = w
	m.mu.Unlock()
	return true
}

func (m *Morphs) Get(i int) float32 {
	if i < 0 || i >= len(m.weights) {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights[i]
}

// Weights returns a snapshot.
func (m *Morphs) Weights() []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float32, len(m.weights))
	copy(out, m.weights)
	return out
}

// Index finds a target by name, or -1.
func (m *Morphs) Index(name string) int {
	for i, n := range m.names {
		if n == name && n != "" {
			return i
		}
	}
	return -1
}

func (m *Morphs) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

func (m *Morphs) Reset() {
	m.mu.Lock()
	for i := range m.weights {
		m.weights[i] = 0
	}
	m.mu.Unlock()
}
