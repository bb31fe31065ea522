package analysis

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Clustering parameters.
const (
	ClusterSeed    = 42
	ClusterRestart = 10
	MaxClusters    = 5
	minClusterRows = 10
	maxIterations  = 300
	sampleIDs      = 5
)


// ClusterProfile describes one cluster in original units.
type ClusterProfile struct {
	ID       int            `json:"id" yaml:"id"`
	Count    int            `json:"count" yaml:"count"`
	Means    map[string]Num `json:"means" yaml:"means"`
	Category string         `json:"category,omitempty" yaml:"category,omitempty"`
	TractIDs []string       `json:"tract_ids" yaml:"tract_ids"`
}

// Clustering is the Cluster report.
type Clustering struct {
	Variables []string         `json:"variables" yaml:"variables"`
	Rows      int              `json:"rows" yaml:"rows"`
	K         int              `json:"k" yaml:"k"`
	Inertia   Num              `json:"inertia" yaml:"inertia"`
	Profiles  []ClusterProfile `json:"profiles" yaml:"profiles"`
	// Labels holds the cluster of every complete row, in frame order.
	Labels []int `json:"-" yaml:"-"`
}

// Cluster groups tracts with complete values for the cluster variables by
// k-means over standardized values. k is min(5, rows/10), seeded k-means++
// with the best of ten restarts.
func Cluster(f *Frame) (*Clustering, error) {
	vars := make([]string, 0, len(ClusterVariables))
	for _, v := range ClusterVariables {
		if f.Has(v) {
			vars = append(vars, v)
		}
	}
	if len(vars) < 2 {
		return nil, eris.Wrapf(ErrInsufficientData, "cluster: %d of %d variables present", len(vars), len(ClusterVariables))
	}

	var (
		raw  [][]float64
		rows []int
	)
	for i := 0; i < f.Len(); i++ {
		pt := make([]float64, len(vars))
		complete := true
		for j, v := range vars {
			pt[j] = f.Float(i, v)
			if math.IsNaN(pt[j]) {
				complete = false
				break
			}
		}
		if complete {
			raw = append(raw, pt)
			rows = append(rows, i)
		}
	}
	if len(raw) < minClusterRows {
		return nil, eris.Wrapf(ErrInsufficientData, "cluster: %d complete rows", len(raw))
	}

	k := min(MaxClusters, len(raw)/minClusterRows)
	scaled := standardize(raw)

	rng := rand.New(rand.NewPCG(ClusterSeed, 0))
	var best kmeansResult
	for run := 0; run < ClusterRestart; run++ {
		res := lloyd(scaled, kmeansPlusPlus(scaled, k, rng))
		if run == 0 || res.inertia < best.inertia {
			best = res
		}
	}

	c := &Clustering{Variables: vars, Rows: len(raw), K: k, Inertia: Num(best.inertia), Labels: best.labels}
	for id := 0; id < k; id++ {
		p := ClusterProfile{ID: id, Means: make(map[string]Num, len(vars)), TractIDs: []string{}}
		sums := make([]float64, len(vars))
		for n, label := range best.labels {
			if label != id {
				continue
			}
			p.Count++
			floats.Add(sums, raw[n])
			if len(p.TractIDs) < sampleIDs {
				p.TractIDs = append(p.TractIDs, f.Text(rows[n], FieldGEOID))
			}
		}
		for j, v := range vars {
			mean := math.NaN()
			if p.Count > 0 {
				mean = sums[j] / float64(p.Count)
			}
			p.Means[v] = Num(mean)
		}
		if m, ok := p.Means[FieldFixed]; ok && m.Valid() {
			p.Category = accessCategory(float64(m))
		}
		c.Profiles = append(c.Profiles, p)
	}
	return c, nil
}

// standardize centers each column and scales it by the population standard
// deviation. Constant columns become zero.
func standardize(pts [][]float64) [][]float64 {
	dims := len(pts[0])
	out := make([][]float64, len(pts))
	for i := range out {
		out[i] = make([]float64, dims)
	}
	col := make([]float64, len(pts))
	for j := 0; j < dims; j++ {
		for i, p := range pts {
			col[i] = p[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i, p := range pts {
			if std > 0 {
				out[i][j] = (p[j] - mean) / std
			}
		}
	}
	return out
}

// kmeansPlusPlus picks k starting centers, each drawn with probability
// proportional to its squared distance from the nearest chosen center.
func kmeansPlusPlus(pts [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(pts[rng.IntN(len(pts))]))

	d2 := make([]float64, len(pts))
	for len(centers) < k {
		var total float64
		for i, p := range pts {
			d := floats.Distance(p, centers[len(centers)-1], 2)
			if len(centers) == 1 || d*d < d2[i] {
				d2[i] = d * d
			}
			total += d2[i]
		}
		if total == 0 {
			// every point coincides with a center
			centers = append(centers, clone(pts[rng.IntN(len(pts))]))
			continue
		}
		pick := distuv.NewCategorical(d2, rng).Rand()
		centers = append(centers, clone(pts[int(pick)]))
	}
	return centers
}

type kmeansResult struct {
	labels  []int
	inertia float64
}

// lloyd alternates assignment and mean updates until labels settle.
func lloyd(pts, centers [][]float64) kmeansResult {
	labels := make([]int, len(pts))
	for i := range labels {
		labels[i] = -1
	}
	dims := len(pts[0])
	counts := make([]int, len(centers))

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range pts {
			if c := nearest(p, centers); c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range centers {
			counts[c] = 0
			for j := 0; j < dims; j++ {
				centers[c][j] = 0
			}
		}
		for i, p := range pts {
			floats.Add(centers[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), centers[c])
			} else {
				// empty cluster keeps a point of its own
				copy(centers[c], pts[farthest(pts, centers, labels)])
			}
		}
	}

	var inertia float64
	for i, p := range pts {
		d := floats.Distance(p, centers[labels[i]], 2)
		inertia += d * d
	}
	return kmeansResult{labels: labels, inertia: inertia}
}

func nearest(p []float64, centers [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centers {
		if d := floats.Distance(p, ctr, 2); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func farthest(pts, centers [][]float64, labels []int) int {
	best, bestD := 0, -1.0
	for i, p := range pts {
		if d := floats.Distance(p, centers[labels[i]], 2); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}

// WriteText implements Report.
func (c *Clustering) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Clustered %d tracts on %s (k=%d, inertia %s)\n",
		c.Rows, strings.Join(c.Variables, ", "), c.K, c.Inertia.Format(2))
	for _, p := range c.Profiles {
		fmt.Fprintf(w, "\nCluster %d (%d tracts):\n", p.ID, p.Count)
		for _, v := range c.Variables {
			fmt.Fprintf(w, "  %s: %s%%\n", Label(v), p.Means[v])
		}
		if p.Category != "" {
			fmt.Fprintf(w, "  -> %s\n", p.Category)
		}
		if len(p.TractIDs) > 0 {
			fmt.Fprintf(w, "  sample tracts: %s\n", strings.Join(p.TractIDs, ", "))
		}
	}
	return nil
}

// Sheets implements Report.
func (c *Clustering) Sheets() []Sheet {
	sh := Sheet{Name: "Clusters", Header: []string{"cluster", "count"}}
	sh.Header = append(sh.Header, c.Variables...)
	sh.Header = append(sh.Header, "category", "sample_tracts")
	for _, p := range c.Profiles {
		row := []any{p.ID, p.Count}
		for _, v := range c.Variables {
			row = append(row, p.Means[v])
		}
		row = append(row, p.Category, strings.Join(p.TractIDs, ", "))
		sh.Rows = append(sh.Rows, row)
	}
	return []Sheet{sh}
}
