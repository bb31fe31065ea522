package analysis

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
)

// DefaultPriorityLimit is the number of tracts Priority returns by default.
const DefaultPriorityLimit = 10

// Values substituted for missing inputs to the priority score.
const (
	defaultBroadband  = 50
	defaultDevice     = 50
	defaultSmartphone = 10
)

// PriorityTract is one ranked tract.
type PriorityTract struct {
	Rank       int    `json:"rank" yaml:"rank"`
	GEOID      string `json:"geoid" yaml:"geoid"`
	County     string `json:"county" yaml:"county"`
	Score      Num    `json:"score" yaml:"score"`
	Broadband  Num    `json:"broadband_fixed" yaml:"broadband_fixed"`
	Device     Num    `json:"any_computing_device" yaml:"any_computing_device"`
	Smartphone Num    `json:"pct_smartphone_only" yaml:"pct_smartphone_only"`
}

// PriorityReport is the Priority report.
type PriorityReport struct {
	Tracts []PriorityTract `json:"tracts" yaml:"tracts"`
}

// PriorityScore weighs low broadband, low device access and smartphone-only
// dependency; higher means more in need. Missing inputs take neutral
// defaults; a field absent from the frame contributes nothing.
func PriorityScore(broadband, device, smartphone float64, has func(string) bool) float64 {
	var score float64
	if has(FieldFixed) {
		score += (100 - fillNaN(broadband, defaultBroadband)) * 0.4
	}
	if has(FieldDevice) {
		score += (100 - fillNaN(device, defaultDevice)) * 0.3
	}
	if has(FieldSmartphone) {
		score += fillNaN(smartphone, defaultSmartphone) * 0.3
	}
	return score
}

// Priority ranks tracts by PriorityScore and returns the top limit. Ties
// keep frame order. At least two of the three inputs must be present.
func Priority(f *Frame, limit int) (*PriorityReport, error) {
	if limit <= 0 {
		limit = DefaultPriorityLimit
	}
	var present int
	for _, col := range ClusterVariables {
		if f.Has(col) {
			present++
		}
	}
	if present < 2 {
		return nil, eris.Wrapf(ErrInsufficientData, "priority: needs two of %v, found %d", ClusterVariables, present)
	}

	all := make([]PriorityTract, f.Len())
	for i := range all {
		bb, dev, sm := f.Float(i, FieldFixed), f.Float(i, FieldDevice), f.Float(i, FieldSmartphone)
		all[i] = PriorityTract{
			GEOID:      f.Text(i, FieldGEOID),
			County:     f.Text(i, FieldCounty),
			Score:      Num(PriorityScore(bb, dev, sm, f.Has)),
			Broadband:  Num(bb),
			Device:     Num(dev),
			Smartphone: Num(sm),
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	if len(all) > limit {
		all = all[:limit]
	}
	for i := range all {
		all[i].Rank = i + 1
	}
	return &PriorityReport{Tracts: all}, nil
}

// WriteText implements Report.
func (r *PriorityReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Top %d priority tracts for intervention:\n", len(r.Tracts))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTRACT\tCOUNTY\tSCORE\tBROADBAND\tDEVICES\tSMARTPHONE ONLY")
	for _, t := range r.Tracts {
		county := t.County
		if county == "" {
			county = "Unknown"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s%%\t%s%%\t%s%%\n",
			t.Rank, t.GEOID, county, t.Score, t.Broadband, t.Device, t.Smartphone)
	}
	return tw.Flush()
}

// Sheets implements Report.
func (r *PriorityReport) Sheets() []Sheet {
	sh := Sheet{
		Name:   "Priority Tracts",
		Header: []string{"rank", "geoid", "county", "score", "broadband_fixed", "any_computing_device", "pct_smartphone_only"},
	}
	for _, t := range r.Tracts {
		sh.Rows = append(sh.Rows, []any{t.Rank, t.GEOID, t.County, t.Score, t.Broadband, t.Device, t.Smartphone})
	}
	return []Sheet{sh}
}
