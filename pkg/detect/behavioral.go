package detect

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Streaming-model tuning. Values follow the common half-space-trees
// parameterisation: a small ensemble of shallow random trees over a
// windowed mass profile.
const (
	hstTrees      = 10
	hstDepth      = 8
	hstWindowSize = 250
	quantileQ     = 0.95
	quantileKeep  = 256
	outlierGate   = 0.8
)

// BehavioralDetector keeps one online anomaly model per (agent, event type)
// pair: a running standard scaler feeding quantile-filtered half-space
// trees. Models are replica-local and learned unsupervised, score first and
// learn after.
type BehavioralDetector struct {
	mu     sync.Mutex
	models map[string]*onlineModel
}

// NewBehavioralDetector creates an empty model map; models are allocated on
// first sighting of each (agent, event type) pair.
func NewBehavioralDetector() *BehavioralDetector {
	return &BehavioralDetector{models: make(map[string]*onlineModel)}
}

// vector projects the feature map onto the event-type-specific scalar
// vector the behavioral model consumes.
func vector(feats map[string]any, eventType string) []float64 {
	switch eventType {
	case "process":
		return []float64{fnum(feats, "command_line_len"), fnum(feats, "proc_freq_per_hour")}
	case "file":
		return []float64{fnum(feats, "file_size"), fnum(feats, "temp_file_freq"), fnum(feats, "yara_hits_count")}
	case "network":
		return []float64{fnum(feats, "bytes_sent") + fnum(feats, "bytes_received"), fnum(feats, "remote_port")}
	case "system":
		return []float64{fnum(feats, "cpu_usage"), fnum(feats, "memory_used_pct"), fnum(feats, "disk_usage")}
	}
	return nil
}

// Detect scores then learns. Emits a contribution only above the outlier
// gate.
func (d *BehavioralDetector) Detect(feats map[string]any, agentID, eventType string) (float64, []string) {
	x := vector(feats, eventType)
	if x == nil {
		return 0, nil
	}

	d.mu.Lock()
	key := agentID + ":" + eventType
	m, ok := d.models[key]
	if !ok {
		m = newOnlineModel(key, len(x))
		d.models[key] = m
	}
	d.mu.Unlock()

	score := m.ScoreThenLearn(x)
	if score > outlierGate {
		return math.Min(score*100, 100), []string{"behavioral_outlier"}
	}
	return 0, nil
}

// ModelCount reports how many per-pair models are live, for observability.
func (d *BehavioralDetector) ModelCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.models)
}

// onlineModel is one scaler+trees+filter chain. Not safe for concurrent
// use; the owner serialises access.
type onlineModel struct {
	mu     sync.Mutex
	scaler *runningScaler
	trees  []*hsTree
	warmed bool
	seen   int
	scores *quantileWindow
}

func newOnlineModel(key string, dim int) *onlineModel {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	trees := make([]*hsTree, hstTrees)
	for i := range trees {
		trees[i] = newHSTree(rng, dim)
	}
	return &onlineModel{
		scaler: newRunningScaler(dim),
		trees:  trees,
		scores: newQuantileWindow(quantileKeep),
	}
}

// ScoreThenLearn applies the unsupervised-online discipline: the point is
// scored against the current profile before it can influence it. Scores
// above the running 0.95 quantile are withheld from the mass profile so
// outliers do not teach the model that they are normal.
func (m *onlineModel) ScoreThenLearn(x []float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	z := m.scaler.transform(x)
	score := m.score(z)

	m.scaler.learn(x)
	if !m.warmed || score <= m.scores.quantile(quantileQ) {
		for _, t := range m.trees {
			t.learn(z)
		}
	}
	m.scores.push(score)

	m.seen++
	if m.seen%hstWindowSize == 0 {
		for _, t := range m.trees {
			t.advanceWindow()
		}
		m.warmed = true
	}
	return score
}

// score is 1 minus the normalised windowed mass around z. Until the first
// window completes there is no reference profile and the score is 0.
func (m *onlineModel) score(z []float64) float64 {
	if !m.warmed {
		return 0
	}
	total := 0.0
	for _, t := range m.trees {
		total += t.mass(z)
	}
	maxMass := float64(len(m.trees)) * hstWindowSize * math.Exp2(hstDepth)
	return clamp(1-total/maxMass, 0, 1)
}

// hsTree is one random half-space tree over the sigmoid-squashed scaled
// feature space [0,1]^dim. Leaves hold event mass for the reference and
// the filling window.
type hsTree struct {
	feature   []int
	threshold []float64
	refMass   []float64
	curMass   []float64
}

// newHSTree builds a perfect binary tree of hstDepth with random splits.
// Node i has children 2i+1, 2i+2; the last level are leaves.
func newHSTree(rng *rand.Rand, dim int) *hsTree {
	internal := (1 << hstDepth) - 1
	leaves := 1 << hstDepth
	t := &hsTree{
		feature:   make([]int, internal),
		threshold: make([]float64, internal),
		refMass:   make([]float64, leaves),
		curMass:   make([]float64, leaves),
	}
	// Per-node split ranges narrow with depth, mirroring the recursive
	// bisection construction.
	lo := make([]float64, internal)
	hi := make([]float64, internal)
	for i := range lo {
		lo[i], hi[i] = 0, 1
	}
	for i := 0; i < internal; i++ {
		t.feature[i] = rng.Intn(dim)
		t.threshold[i] = lo[i] + rng.Float64()*(hi[i]-lo[i])
		left, right := 2*i+1, 2*i+2
		if left < internal {
			lo[left], hi[left] = lo[i], t.threshold[i]
		}
		if right < internal {
			lo[right], hi[right] = t.threshold[i], hi[i]
		}
	}
	return t
}

// leaf locates the leaf index for z.
func (t *hsTree) leaf(z []float64) int {
	idx := 0
	internal := len(t.feature)
	for idx < internal {
		f := t.feature[idx]
		v := 0.0
		if f < len(z) {
			v = z[f]
		}
		if v <= t.threshold[idx] {
			idx = 2*idx + 1
		} else {
			idx = 2*idx + 2
		}
	}
	return idx - internal
}

func (t *hsTree) learn(z []float64) {
	t.curMass[t.leaf(z)]++
}

// mass returns the reference-window mass at z's leaf, depth-weighted.
func (t *hsTree) mass(z []float64) float64 {
	return t.refMass[t.leaf(z)] * math.Exp2(hstDepth)
}

// advanceWindow promotes the filling window to the reference profile.
func (t *hsTree) advanceWindow() {
	copy(t.refMass, t.curMass)
	for i := range t.curMass {
		t.curMass[i] = 0
	}
}

// runningScaler standardises features with Welford-updated mean/variance,
// then squashes into (0,1) so the trees' unit-cube splits apply.
type runningScaler struct {
	n    int
	mean []float64
	m2   []float64
}

func newRunningScaler(dim int) *runningScaler {
	return &runningScaler{mean: make([]float64, dim), m2: make([]float64, dim)}
}

func (s *runningScaler) learn(x []float64) {
	s.n++
	for i, v := range x {
		delta := v - s.mean[i]
		s.mean[i] += delta / float64(s.n)
		s.m2[i] += delta * (v - s.mean[i])
	}
}

func (s *runningScaler) transform(x []float64) []float64 {
	z := make([]float64, len(x))
	for i, v := range x {
		std := 0.0
		if s.n > 1 {
			std = math.Sqrt(s.m2[i] / float64(s.n))
		}
		scaled := 0.0
		if std > 0 {
			scaled = (v - s.mean[i]) / std
		}
		z[i] = 1 / (1 + math.Exp(-scaled))
	}
	return z
}

// quantileWindow estimates a running quantile over the last capacity
// scores.
type quantileWindow struct {
	buf  []float64
	next int
	full bool
}

func newQuantileWindow(capacity int) *quantileWindow {
	return &quantileWindow{buf: make([]float64, 0, capacity)}
}

func (q *quantileWindow) push(v float64) {
	if len(q.buf) < cap(q.buf) {
		q.buf = append(q.buf, v)
		return
	}
	q.buf[q.next] = v
	q.next = (q.next + 1) % len(q.buf)
	q.full = true
}

func (q *quantileWindow) quantile(p float64) float64 {
	if len(q.buf) == 0 {
		return 1
	}
	sorted := make([]float64, len(q.buf))
	copy(sorted, q.buf)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
