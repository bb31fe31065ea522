package analysis

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
)

// maxOutlierIDs caps the tract ids listed per field.
const maxOutlierIDs = 5

// FieldStats describes one numeric column.
type FieldStats struct {
	Field      string   `json:"field" yaml:"field"`
	Count      int      `json:"count" yaml:"count"`
	Mean       Num      `json:"mean" yaml:"mean"`
	Std        Num      `json:"std" yaml:"std"`
	Min        Num      `json:"min" yaml:"min"`
	Max        Num      `json:"max" yaml:"max"`
	Q1         Num      `json:"q1" yaml:"q1"`
	Median     Num      `json:"median" yaml:"median"`
	Q3         Num      `json:"q3" yaml:"q3"`
	Skew       Num      `json:"skewness" yaml:"skewness"`
	Shape      string   `json:"shape" yaml:"shape"`
	Outliers   int      `json:"outliers" yaml:"outliers"`
	OutlierIDs []string `json:"outlier_ids,omitempty" yaml:"outlier_ids,omitempty"`
	Below80    int      `json:"below_80" yaml:"below_80"`
	Below90    int      `json:"below_90" yaml:"below_90"`
}

// PctBelow80 is the share of counted values under 80.
func (s FieldStats) PctBelow80() float64 { return pct(s.Below80, s.Count) }

// PctBelow90 is the share of counted values under 90.
func (s FieldStats) PctBelow90() float64 { return pct(s.Below90, s.Count) }

// Description is the Describe report.
type Description struct {
	Tracts int          `json:"tracts" yaml:"tracts"`
	Fields []FieldStats `json:"fields" yaml:"fields"`
}

// Describe summarizes each of fields present in f; KeyVariables when fields
// is empty. Columns absent or entirely non-numeric are left out.
func Describe(f *Frame, fields ...string) *Description {
	if len(fields) == 0 {
		fields = KeyVariables
	}
	d := &Description{Tracts: f.Len()}
	for _, col := range f.present(fields) {
		if fs, ok := DescribeField(f, col); ok {
			d.Fields = append(d.Fields, fs)
		}
	}
	return d
}

// DescribeField summarizes one column. ok is false when the column has no
// numeric values.
func DescribeField(f *Frame, col string) (FieldStats, bool) {
	xs := f.Floats(col)
	s, ok := summarize(xs)
	if !ok {
		return FieldStats{Field: col}, false
	}

	fs := FieldStats{
		Field:  col,
		Count:  s.n,
		Mean:   Num(s.mean),
		Std:    Num(s.std),
		Min:    Num(s.min),
		Max:    Num(s.max),
		Q1:     Num(s.q1),
		Median: Num(s.median),
		Q3:     Num(s.q3),
		Skew:   Num(s.skew),
		Shape:  shape(s.skew),
	}

	iqr := s.q3 - s.q1
	lower, upper := s.q1-1.5*iqr, s.q3+1.5*iqr
	var ids []string
	for i, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		if x < 80 {
			fs.Below80++
		}
		if x < 90 {
			fs.Below90++
		}
		if x < lower || x > upper {
			fs.Outliers++
			if id := f.Text(i, FieldGEOID); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) > maxOutlierIDs {
		ids = ids[:maxOutlierIDs]
	}
	fs.OutlierIDs = ids
	return fs, true
}

func shape(skew float64) string {
	switch {
	case math.IsNaN(skew):
		return "undefined"
	case skew > 0.5:
		return "right-skewed"
	case skew < -0.5:
		return "left-skewed"
	default:
		return "normal"
	}
}

func pct(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

// WriteText implements Report.
func (d *Description) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Distribution of %d tracts\n\n", d.Tracts)
	if len(d.Fields) == 0 {
		_, err := fmt.Fprintln(w, "No numeric key variables found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tN\tMEAN\tSTD\tMIN\tQ1\tMEDIAN\tQ3\tMAX\tSKEW\tOUTLIERS\t<80\t<90")
	for _, s := range d.Fields {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s (%s)\t%d\t%d (%.1f%%)\t%d (%.1f%%)\n",
			Label(s.Field), s.Count,
			s.Mean, s.Std, s.Min, s.Q1, s.Median, s.Q3, s.Max,
			s.Skew.Format(2), s.Shape, s.Outliers,
			s.Below80, s.PctBelow80(), s.Below90, s.PctBelow90(),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range d.Fields {
		if len(s.OutlierIDs) > 0 {
			fmt.Fprintf(w, "\n%s outlier tracts: %s", Label(s.Field), strings.Join(s.OutlierIDs, ", "))
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// Sheets implements Report.
func (d *Description) Sheets() []Sheet {
	sh := Sheet{
		Name:   "Distribution",
		Header: []string{"field", "count", "mean", "std", "min", "q1", "median", "q3", "max", "skewness", "shape", "outliers", "below_80", "below_90"},
	}
	for _, s := range d.Fields {
		sh.Rows = append(sh.Rows, []any{
			s.Field, s.Count, s.Mean, s.Std, s.Min, s.Q1, s.Median, s.Q3, s.Max,
			s.Skew, s.Shape, s.Outliers, s.Below80, s.Below90,
		})
	}
	return []Sheet{sh}
}
