package analysis

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"
)

// HighVariance is the broadband standard deviation above which a county is
// flagged.
const HighVariance = 15

// County aggregates the tracts of one county.
type County struct {
	Name          string `json:"name" yaml:"name"`
	Tracts        int    `json:"tracts" yaml:"tracts"`
	BroadbandMean Num    `json:"broadband_fixed_mean" yaml:"broadband_fixed_mean"`
	BroadbandStd  Num    `json:"broadband_fixed_std" yaml:"broadband_fixed_std"`
	DeviceMean    Num    `json:"any_computing_device_mean" yaml:"any_computing_device_mean"`
	SmartMean     Num    `json:"pct_smartphone_only_mean" yaml:"pct_smartphone_only_mean"`
}

// Variance labels the spread of broadband access across the county's tracts.
func (c County) Variance() string {
	if c.BroadbandStd.Valid() && c.BroadbandStd > HighVariance {
		return "high variance"
	}
	return "low variance"
}

// CountyReport is the CountySummary report.
type CountyReport struct {
	Counties []County `json:"counties" yaml:"counties"`
}

// CountySummary groups tracts by county and ranks counties by ascending
// mean fixed broadband. Tracts without a county name are left out. Tracts
// counts only rows with a broadband value.
func CountySummary(f *Frame) *CountyReport {
	r := &CountyReport{Counties: []County{}}
	if !f.Has(FieldCounty) || !f.Has(FieldFixed) {
		return r
	}

	groups := make(map[string][]int)
	var order []string
	for i := 0; i < f.Len(); i++ {
		name := f.Text(i, FieldCounty)
		if name == "" {
			continue
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], i)
	}

	for _, name := range order {
		idx := groups[name]
		bb := column(f, idx, FieldFixed)
		c := County{
			Name:          name,
			Tracts:        len(bb),
			BroadbandMean: Num(mean(bb)),
			BroadbandStd:  Num(math.NaN()),
			DeviceMean:    Num(mean(column(f, idx, FieldDevice))),
			SmartMean:     Num(mean(column(f, idx, FieldSmartphone))),
		}
		if len(bb) > 1 {
			c.BroadbandStd = Num(stat.StdDev(bb, nil))
		}
		r.Counties = append(r.Counties, c)
	}

	// counties with no broadband values sort last
	sort.SliceStable(r.Counties, func(i, j int) bool {
		a, b := r.Counties[i].BroadbandMean, r.Counties[j].BroadbandMean
		if !a.Valid() || !b.Valid() {
			return a.Valid() && !b.Valid()
		}
		return a < b
	})
	return r
}

// column collects the numeric values of col over the given rows.
func column(f *Frame, rows []int, col string) []float64 {
	var out []float64
	for _, i := range rows {
		if v := f.Float(i, col); !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// WriteText implements Report.
func (r *CountyReport) WriteText(w io.Writer) error {
	if len(r.Counties) == 0 {
		_, err := fmt.Fprintln(w, "No county data found.")
		return err
	}
	fmt.Fprintln(w, "Counties ranked by fixed broadband access (lowest first):")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTY\tTRACTS\tBROADBAND\tSTD\tDEVICES\tSMARTPHONE ONLY\tSPREAD")
	for _, c := range r.Counties {
		fmt.Fprintf(tw, "%s\t%d\t%s%%\t%s\t%s%%\t%s%%\t%s\n",
			c.Name, c.Tracts, c.BroadbandMean, c.BroadbandStd, c.DeviceMean, c.SmartMean, c.Variance())
	}
	return tw.Flush()
}

// Sheets implements Report.
func (r *CountyReport) Sheets() []Sheet {
	sh := Sheet{
		Name:   "Counties",
		Header: []string{"county", "tracts", "broadband_fixed_mean", "broadband_fixed_std", "any_computing_device_mean", "pct_smartphone_only_mean", "variance"},
	}
	for _, c := range r.Counties {
		sh.Rows = append(sh.Rows, []any{c.Name, c.Tracts, c.BroadbandMean, c.BroadbandStd, c.DeviceMean, c.SmartMean, c.Variance()})
	}
	return []Sheet{sh}
}
