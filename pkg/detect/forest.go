package detect

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Forest is a serialised isolation forest. Models are exported to JSON at
// training time with one node table per tree; leaves carry feature -1.
type Forest struct {
	MaxSamples int          `json:"max_samples"`
	Offset     float64      `json:"offset"`
	Trees      []forestTree `json:"trees"`
}

type forestTree struct {
	Nodes []forestNode `json:"nodes"`
}

type forestNode struct {
	Feature   int     `json:"feature"` // -1 marks a leaf
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	NSamples  int     `json:"n_samples"`
}

// LoadForest reads a model file.
func LoadForest(path string) (*Forest, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var f Forest
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("model %s has no trees", path)
	}
	if f.MaxSamples <= 0 {
		f.MaxSamples = 256
	}
	return &f, nil
}

// averagePathLength is the expected path length c(n) of an unsuccessful
// BST search, the isolation-forest normalisation term.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

// pathLength isolates x in one tree, returning the traversal depth plus the
// leaf-size correction.
func (t *forestTree) pathLength(x []float64) float64 {
	depth := 0.0
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return depth + averagePathLength(node.NSamples)
		}
		feat := 0.0
		if node.Feature < len(x) {
			feat = x[node.Feature]
		}
		if feat <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		depth++
	}
}

// Decision computes the decision-function value for x: negative values are
// anomalous. Mirrors the usual isolation-forest formulation
// (-2^(-E[h(x)]/c(psi)) minus the fitted offset).
func (f *Forest) Decision(x []float64) float64 {
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x)
	}
	avg := sum / float64(len(f.Trees))
	scoreSamples := -math.Exp2(-avg / averagePathLength(f.MaxSamples))
	return scoreSamples - f.Offset
}

// Predict returns -1 for anomalous points, 1 otherwise.
func (f *Forest) Predict(x []float64) int {
	if f.Decision(x) < 0 {
		return -1
	}
	return 1
}
