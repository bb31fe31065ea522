package analysis

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
)

// DefaultImpactLimit is the number of tracts ranked by household impact.
const DefaultImpactLimit = 20

// Household impact weights.
const (
	impactBroadbandWeight = 0.6
	impactDeviceWeight    = 0.4
)

// HouseholdField is the weighted view of one digital-equity field.
type HouseholdField struct {
	Field       string `json:"field" yaml:"field"`
	Weighted    Num    `json:"weighted_mean" yaml:"weighted_mean"`
	TractMean   Num    `json:"tract_mean" yaml:"tract_mean"`
	ValidTracts int    `json:"valid_tracts" yaml:"valid_tracts"`
	// With and Without are household counts implied by the weighted share.
	With    int64 `json:"with" yaml:"with"`
	Without int64 `json:"without" yaml:"without"`
}

// CountyHouseholds totals one county.
type CountyHouseholds struct {
	Name       string `json:"name" yaml:"name"`
	Households int64  `json:"households" yaml:"households"`
	Tracts     int    `json:"tracts" yaml:"tracts"`
	Mean       Num    `json:"mean" yaml:"mean"`
	Median     Num    `json:"median" yaml:"median"`
}

// ImpactTract is a tract ranked by households lacking access.
type ImpactTract struct {
	Rank             int    `json:"rank" yaml:"rank"`
	GEOID            string `json:"geoid" yaml:"geoid"`
	County           string `json:"county" yaml:"county"`
	Households       int64  `json:"households" yaml:"households"`
	WithoutBroadband Num    `json:"without_broadband" yaml:"without_broadband"`
	WithoutDevices   Num    `json:"without_devices" yaml:"without_devices"`
	Score            Num    `json:"score" yaml:"score"`
}

// HouseholdReport is the Households report.
type HouseholdReport struct {
	Total       int64              `json:"total" yaml:"total"`
	Tracts      int                `json:"tracts" yaml:"tracts"`
	ValidTracts int                `json:"valid_tracts" yaml:"valid_tracts"`
	Mean        Num                `json:"mean" yaml:"mean"`
	Median      Num                `json:"median" yaml:"median"`
	Q1          Num                `json:"q1" yaml:"q1"`
	Q3          Num                `json:"q3" yaml:"q3"`
	Min         Num                `json:"min" yaml:"min"`
	Max         Num                `json:"max" yaml:"max"`
	Fields      []HouseholdField   `json:"fields" yaml:"fields"`
	Counties    []CountyHouseholds `json:"counties" yaml:"counties"`
	Impact      []ImpactTract      `json:"impact" yaml:"impact"`
}

// Households totals households, weights digital-equity shares by household
// count and ranks tracts by the number of households without access.
func Households(f *Frame, limit int) (*HouseholdReport, error) {
	if !f.Has(FieldHouseholds) {
		return nil, eris.Wrapf(ErrInsufficientData, "households: no %s column", FieldHouseholds)
	}
	if limit <= 0 {
		limit = DefaultImpactLimit
	}

	hh := f.Floats(FieldHouseholds)
	r := &HouseholdReport{Tracts: f.Len(), Counties: []CountyHouseholds{}, Impact: []ImpactTract{}}
	s, ok := summarize(hh)
	if !ok {
		return nil, eris.Wrapf(ErrInsufficientData, "households: %s has no numeric values", FieldHouseholds)
	}
	var total float64
	for _, v := range dropNaN(hh) {
		total += v
	}
	r.Total = int64(math.Round(total))
	r.ValidTracts = s.n
	r.Mean, r.Median = Num(s.mean), Num(s.median)
	r.Q1, r.Q3 = Num(s.q1), Num(s.q3)
	r.Min, r.Max = Num(s.min), Num(s.max)

	for _, col := range ClusterVariables {
		if !f.Has(col) {
			continue
		}
		if hf, ok := weighted(f, col, hh); ok {
			r.Fields = append(r.Fields, hf)
		}
	}

	r.Counties = countyHouseholds(f, hh)

	if f.Has(FieldFixed) && f.Has(FieldDevice) {
		r.Impact = impact(f, hh, limit)
	}
	return r, nil
}

// weighted averages col over tracts with a value and a positive household
// count.
func weighted(f *Frame, col string, hh []float64) (HouseholdField, bool) {
	var xs, ws []float64
	for i, w := range hh {
		v := f.Float(i, col)
		if math.IsNaN(v) || math.IsNaN(w) || w <= 0 {
			continue
		}
		xs = append(xs, v)
		ws = append(ws, w)
	}
	if len(xs) == 0 {
		return HouseholdField{}, false
	}

	avg := stat.Mean(xs, ws)
	var households float64
	for _, w := range ws {
		households += w
	}
	with := int64(avg / 100 * households)
	return HouseholdField{
		Field:       col,
		Weighted:    Num(avg),
		TractMean:   Num(stat.Mean(xs, nil)),
		ValidTracts: len(xs),
		With:        with,
		Without:     int64(households) - with,
	}, true
}

func countyHouseholds(f *Frame, hh []float64) []CountyHouseholds {
	if !f.Has(FieldCounty) {
		return []CountyHouseholds{}
	}
	groups := make(map[string][]float64)
	var order []string
	for i, v := range hh {
		name := f.Text(i, FieldCounty)
		if name == "" {
			continue
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
			groups[name] = nil
		}
		if !math.IsNaN(v) {
			groups[name] = append(groups[name], v)
		}
	}

	out := make([]CountyHouseholds, 0, len(order))
	for _, name := range order {
		vals := groups[name]
		c := CountyHouseholds{Name: name, Tracts: len(vals), Mean: Num(math.NaN()), Median: Num(math.NaN())}
		if s, ok := summarize(vals); ok {
			var sum float64
			for _, v := range vals {
				sum += v
			}
			c.Households = int64(math.Round(sum))
			c.Mean, c.Median = Num(s.mean), Num(s.median)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Households > out[j].Households })
	return out
}

func impact(f *Frame, hh []float64, limit int) []ImpactTract {
	var out []ImpactTract
	for i, h := range hh {
		bb, dev := f.Float(i, FieldFixed), f.Float(i, FieldDevice)
		if math.IsNaN(h) || math.IsNaN(bb) || math.IsNaN(dev) {
			continue
		}
		noBB := h * (100 - bb) / 100
		noDev := h * (100 - dev) / 100
		out = append(out, ImpactTract{
			GEOID:            f.Text(i, FieldGEOID),
			County:           f.Text(i, FieldCounty),
			Households:       int64(math.Round(h)),
			WithoutBroadband: Num(noBB),
			WithoutDevices:   Num(noDev),
			Score:            Num(noBB*impactBroadbandWeight + noDev*impactDeviceWeight),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	if out == nil {
		out = []ImpactTract{}
	}
	return out
}

// WriteText implements Report.
func (r *HouseholdReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Households: %d across %d tracts (%d with counts)\n", r.Total, r.Tracts, r.ValidTracts)
	fmt.Fprintf(w, "  mean %s, median %s per tract\n", r.Mean, r.Median)
	fmt.Fprintf(w, "  Q1 %s, Q3 %s, min %s, max %s\n", r.Q1.Format(0), r.Q3.Format(0), r.Min.Format(0), r.Max.Format(0))

	if len(r.Fields) > 0 {
		fmt.Fprintln(w, "\nHousehold-weighted access:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tWEIGHTED\tTRACT MEAN\tTRACTS\tWITH\tWITHOUT")
		for _, hf := range r.Fields {
			fmt.Fprintf(tw, "%s\t%s%%\t%s%%\t%d/%d\t%d\t%d\n",
				Label(hf.Field), hf.Weighted, hf.TractMean, hf.ValidTracts, r.Tracts, hf.With, hf.Without)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Counties) > 0 {
		fmt.Fprintln(w, "\nCounties by households:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "COUNTY\tHOUSEHOLDS\tTRACTS\tMEAN\tMEDIAN")
		for _, c := range r.Counties {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", c.Name, c.Households, c.Tracts, c.Mean, c.Median)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Impact) > 0 {
		fmt.Fprintf(w, "\nTop %d tracts by household impact:\n", len(r.Impact))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tTRACT\tCOUNTY\tHOUSEHOLDS\tNO BROADBAND\tNO DEVICES\tSCORE")
		for _, t := range r.Impact {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
				t.Rank, t.GEOID, t.County, t.Households, t.WithoutBroadband.Format(0), t.WithoutDevices.Format(0), t.Score)
		}
		return tw.Flush()
	}
	return nil
}

// Sheets implements Report.
func (r *HouseholdReport) Sheets() []Sheet {
	summary := Sheet{Name: "Households", Header: []string{"metric", "value"}, Rows: [][]any{
		{"total", r.Total},
		{"tracts", r.Tracts},
		{"valid_tracts", r.ValidTracts},
		{"mean", r.Mean},
		{"median", r.Median},
		{"q1", r.Q1},
		{"q3", r.Q3},
		{"min", r.Min},
		{"max", r.Max},
	}}
	for _, hf := range r.Fields {
		summary.Rows = append(summary.Rows,
			[]any{hf.Field + "_weighted", hf.Weighted},
			[]any{hf.Field + "_with", hf.With},
			[]any{hf.Field + "_without", hf.Without},
		)
	}

	counties := Sheet{Name: "County Households", Header: []string{"county", "households", "tracts", "mean", "median"}}
	for _, c := range r.Counties {
		counties.Rows = append(counties.Rows, []any{c.Name, c.Households, c.Tracts, c.Mean, c.Median})
	}

	impact := Sheet{Name: "Household Impact", Header: []string{"rank", "geoid", "county", "households", "without_broadband", "without_devices", "score"}}
	for _, t := range r.Impact {
		impact.Rows = append(impact.Rows, []any{t.Rank, t.GEOID, t.County, t.Households, t.WithoutBroadband, t.WithoutDevices, t.Score})
	}
	return []Sheet{summary, counties, impact}
}
