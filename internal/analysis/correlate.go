package analysis

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
)

// StrongCorrelation is the |r| above which a pair is reported.
const StrongCorrelation = 0.7

// Pair is the correlation between two fields.
type Pair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
	R Num    `json:"r" yaml:"r"`
}

// Direction is "positive" or "negative".
func (p Pair) Direction() string {
	if p.R < 0 {
		return "negative"
	}
	return "positive"
}

// Correlation is the Correlate report.
type Correlation struct {
	Fields []string `json:"fields" yaml:"fields"`
	// Matrix is the Pearson r for every pair of Fields, indexed alike.
	Matrix  [][]Num `json:"matrix" yaml:"matrix"`
	Strong  []Pair  `json:"strong" yaml:"strong"`
	Notable []Pair  `json:"notable" yaml:"notable"`
}

// notablePairs are always reported when both fields exist.
var notablePairs = [][2]string{
	{FieldFixed, FieldDevice},
	{FieldSmartphone, FieldFixed},
}

// Correlate computes pairwise-complete Pearson correlations over the key
// variables present in f.
func Correlate(f *Frame) *Correlation {
	fields := f.present(KeyVariables)
	cols := make(map[string][]float64, len(fields))
	for _, name := range fields {
		cols[name] = f.Floats(name)
	}

	c := &Correlation{Fields: fields, Matrix: make([][]Num, len(fields))}
	for i := range fields {
		c.Matrix[i] = make([]Num, len(fields))
	}
	for i := range fields {
		c.Matrix[i][i] = 1
		for j := i + 1; j < len(fields); j++ {
			r := pearson(cols[fields[i]], cols[fields[j]])
			c.Matrix[i][j], c.Matrix[j][i] = Num(r), Num(r)
			if !math.IsNaN(r) && math.Abs(r) > StrongCorrelation {
				c.Strong = append(c.Strong, Pair{A: fields[i], B: fields[j], R: Num(r)})
			}
		}
	}

	for _, np := range notablePairs {
		a, okA := cols[np[0]]
		b, okB := cols[np[1]]
		if okA && okB {
			c.Notable = append(c.Notable, Pair{A: np[0], B: np[1], R: Num(pearson(a, b))})
		}
	}
	return c
}

// R returns the correlation between a and b, or NaN when either is absent.
func (c *Correlation) R(a, b string) float64 {
	i, j := indexOf(c.Fields, a), indexOf(c.Fields, b)
	if i < 0 || j < 0 {
		return math.NaN()
	}
	return float64(c.Matrix[i][j])
}

func indexOf(xs []string, s string) int {
	for i, x := range xs {
		if x == s {
			return i
		}
	}
	return -1
}

// WriteText implements Report.
func (c *Correlation) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Strong correlations (|r| > %.1f):\n", StrongCorrelation)
	if len(c.Strong) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, p := range c.Strong {
		fmt.Fprintf(w, "  %s <-> %s: r = %s %s\n", p.A, p.B, p.R.Format(3), p.Direction())
	}

	if len(c.Notable) > 0 {
		fmt.Fprintln(w, "\nNotable relationships:")
		for _, p := range c.Notable {
			fmt.Fprintf(w, "  %s <-> %s: r = %s\n", Label(p.A), Label(p.B), p.R.Format(3))
		}
	}

	if len(c.Fields) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, name := range c.Fields {
		fmt.Fprintf(tw, "%s\t", name)
	}
	fmt.Fprintln(tw)
	for i, name := range c.Fields {
		fmt.Fprintf(tw, "%s\t", name)
		for _, r := range c.Matrix[i] {
			fmt.Fprintf(tw, "%s\t", r.Format(2))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// Sheets implements Report.
func (c *Correlation) Sheets() []Sheet {
	matrix := Sheet{Name: "Correlation", Header: append([]string{""}, c.Fields...)}
	for i, name := range c.Fields {
		row := []any{name}
		for _, r := range c.Matrix[i] {
			row = append(row, r)
		}
		matrix.Rows = append(matrix.Rows, row)
	}

	strong := Sheet{Name: "Strong Pairs", Header: []string{"a", "b", "r", "direction"}}
	for _, p := range c.Strong {
		strong.Rows = append(strong.Rows, []any{p.A, p.B, p.R, p.Direction()})
	}
	return []Sheet{matrix, strong}
}
