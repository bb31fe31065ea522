package analysis

import (
	"fmt"
	"io"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Significance is the p-value below which a gap is significant.
const Significance = 0.05

// AccessGroup summarizes one side of the access gap.
type AccessGroup struct {
	Tracts    int `json:"tracts" yaml:"tracts"`
	Broadband Num `json:"broadband_fixed_mean" yaml:"broadband_fixed_mean"`
	Device    Num `json:"any_computing_device_mean" yaml:"any_computing_device_mean"`
}

// AccessGapReport compares high- and low-access tracts.
type AccessGapReport struct {
	HighThreshold Num         `json:"high_threshold" yaml:"high_threshold"`
	LowThreshold  Num         `json:"low_threshold" yaml:"low_threshold"`
	High          AccessGroup `json:"high" yaml:"high"`
	Low           AccessGroup `json:"low" yaml:"low"`
	T             Num         `json:"t" yaml:"t"`
	P             Num         `json:"p" yaml:"p"`
}

// Significant reports whether the broadband difference is significant.
func (r *AccessGapReport) Significant() bool {
	return r.P.Valid() && r.P < Significance
}

// AccessGap splits tracts at the 75th and 25th percentiles of fixed
// broadband and compares the groups with a pooled two-sample t-test.
func AccessGap(f *Frame) (*AccessGapReport, error) {
	bb := f.Floats(FieldFixed)
	s, ok := summarize(bb)
	if !ok {
		return nil, eris.Wrapf(ErrInsufficientData, "access gap: no %s values", FieldFixed)
	}

	r := &AccessGapReport{HighThreshold: Num(s.q3), LowThreshold: Num(s.q1)}
	var high, low, highDev, lowDev []float64
	for i, v := range bb {
		if math.IsNaN(v) {
			continue
		}
		dev := f.Float(i, FieldDevice)
		if v >= s.q3 {
			high = append(high, v)
			if !math.IsNaN(dev) {
				highDev = append(highDev, dev)
			}
		}
		if v <= s.q1 {
			low = append(low, v)
			if !math.IsNaN(dev) {
				lowDev = append(lowDev, dev)
			}
		}
	}

	r.High = AccessGroup{Tracts: len(high), Broadband: Num(mean(high)), Device: Num(mean(highDev))}
	r.Low = AccessGroup{Tracts: len(low), Broadband: Num(mean(low)), Device: Num(mean(lowDev))}
	t, p := tTest(high, low)
	r.T, r.P = Num(t), Num(p)
	return r, nil
}

// tTest is Student's two-sample t-test with pooled variance. Both results
// are NaN when either group has fewer than two values or the pooled
// variance is zero.
func tTest(a, b []float64) (t, p float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return math.NaN(), math.NaN()
	}
	df := na + nb - 2
	pooled := ((na-1)*stat.Variance(a, nil) + (nb-1)*stat.Variance(b, nil)) / df
	se := math.Sqrt(pooled * (1/na + 1/nb))
	if se == 0 {
		return math.NaN(), math.NaN()
	}
	t = (stat.Mean(a, nil) - stat.Mean(b, nil)) / se
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * dist.Survival(math.Abs(t))
	return t, p
}

// WriteText implements Report.
func (r *AccessGapReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "High-access tracts (broadband >= %s%%, n=%d):\n", r.HighThreshold, r.High.Tracts)
	fmt.Fprintf(w, "  avg broadband: %s%%\n", r.High.Broadband)
	fmt.Fprintf(w, "  avg computing devices: %s%%\n", r.High.Device)
	fmt.Fprintf(w, "\nLow-access tracts (broadband <= %s%%, n=%d):\n", r.LowThreshold, r.Low.Tracts)
	fmt.Fprintf(w, "  avg broadband: %s%%\n", r.Low.Broadband)
	fmt.Fprintf(w, "  avg computing devices: %s%%\n", r.Low.Device)

	verdict := "not significant"
	if r.Significant() {
		verdict = "significant"
	}
	_, err := fmt.Fprintf(w, "\nt = %s, p = %s (%s)\n", r.T.Format(3), r.P.Format(4), verdict)
	return err
}

// Sheets implements Report.
func (r *AccessGapReport) Sheets() []Sheet {
	return []Sheet{{
		Name:   "Access Gap",
		Header: []string{"group", "threshold", "tracts", "broadband_fixed_mean", "any_computing_device_mean"},
		Rows: [][]any{
			{"high", r.HighThreshold, r.High.Tracts, r.High.Broadband, r.High.Device},
			{"low", r.LowThreshold, r.Low.Tracts, r.Low.Broadband, r.Low.Device},
			{"t", r.T},
			{"p", r.P},
		},
	}}
}
