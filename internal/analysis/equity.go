package analysis

import (
	"fmt"
	"io"
	"math"

	"github.com/rotisserie/eris"
)

// EquityVariables are averaged into the composite equity score.
var EquityVariables = []string{FieldDevice, FieldInternet, FieldFixed}

// Intervention thresholds.
const (
	lowDeviceAccess     = 80
	lowBroadbandAccess  = 70
	smartphoneDependent = 20
	smartphoneHigh      = 25
)

// EquityReport summarizes the composite score and intervention counts.
type EquityReport struct {
	Tracts  int `json:"tracts" yaml:"tracts"`
	Scored  int `json:"scored" yaml:"scored"`
	Mean    Num `json:"mean" yaml:"mean"`
	Std     Num `json:"std" yaml:"std"`
	Best    Num `json:"best" yaml:"best"`
	Worst   Num `json:"worst" yaml:"worst"`
	High    int `json:"high" yaml:"high"`
	Medium  int `json:"medium" yaml:"medium"`
	Low     int `json:"low" yaml:"low"`
	// WorstDeviceTract is the geoid with the lowest device access.
	WorstDeviceTract string `json:"worst_device_tract,omitempty" yaml:"worst_device_tract,omitempty"`
	LowDevice        int    `json:"low_device" yaml:"low_device"`
	LowBroadband     int    `json:"low_broadband" yaml:"low_broadband"`
	NeedIntervention int    `json:"need_intervention" yaml:"need_intervention"`
	SmartDependent   int    `json:"smartphone_dependent" yaml:"smartphone_dependent"`
	SmartHigh        int    `json:"smartphone_high" yaml:"smartphone_high"`
	// Completeness is the share of non-missing cells, in percent.
	Completeness Num `json:"completeness" yaml:"completeness"`
}

// Equity averages the available equity variables per tract into a 0-100
// score and counts tracts below the intervention thresholds. At least two
// equity variables must be present.
func Equity(f *Frame) (*EquityReport, error) {
	vars := f.present(EquityVariables)
	if len(vars) < 2 {
		return nil, eris.Wrapf(ErrInsufficientData, "equity: needs two of %v, found %d", EquityVariables, len(vars))
	}

	r := &EquityReport{Tracts: f.Len()}
	var scores []float64
	worstDev := math.Inf(1)
	for i := 0; i < f.Len(); i++ {
		var sum float64
		var n int
		for _, v := range vars {
			if x := f.Float(i, v); !math.IsNaN(x) {
				sum += x
				n++
			}
		}
		if n > 0 {
			score := sum / float64(n)
			scores = append(scores, score)
			switch {
			case score >= 90:
				r.High++
			case score >= 75:
				r.Medium++
			default:
				r.Low++
			}
		}

		dev, bb := f.Float(i, FieldDevice), f.Float(i, FieldFixed)
		if dev < worstDev {
			worstDev = dev
			r.WorstDeviceTract = f.Text(i, FieldGEOID)
		}
		lowDev, lowBB := dev < lowDeviceAccess, bb < lowBroadbandAccess
		if lowDev {
			r.LowDevice++
		}
		if lowBB {
			r.LowBroadband++
		}
		if lowDev || lowBB {
			r.NeedIntervention++
		}
		sm := f.Float(i, FieldSmartphone)
		if sm > smartphoneDependent {
			r.SmartDependent++
		}
		if sm > smartphoneHigh {
			r.SmartHigh++
		}
	}

	s, ok := summarize(scores)
	if ok {
		r.Scored = s.n
		r.Mean, r.Std = Num(s.mean), Num(s.std)
		r.Best, r.Worst = Num(s.max), Num(s.min)
	} else {
		r.Mean, r.Std, r.Best, r.Worst = Num(math.NaN()), Num(math.NaN()), Num(math.NaN()), Num(math.NaN())
	}
	r.Completeness = Num(completeness(f))
	return r, nil
}

func completeness(f *Frame) float64 {
	cells := f.Len() * len(f.Columns())
	if cells == 0 {
		return math.NaN()
	}
	var missing int
	for i := 0; i < f.Len(); i++ {
		for _, col := range f.Columns() {
			if v, ok := f.rows[i][col]; !ok || v == nil {
				missing++
			}
		}
	}
	return (1 - float64(missing)/float64(cells)) * 100
}

// WriteText implements Report.
func (r *EquityReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Digital equity score (0-100, higher is better) over %d of %d tracts:\n", r.Scored, r.Tracts)
	fmt.Fprintf(w, "  average %s, std %s, best %s, worst %s\n", r.Mean, r.Std, r.Best, r.Worst)
	fmt.Fprintf(w, "  high (>=90): %d (%.1f%%)\n", r.High, pct(r.High, r.Scored))
	fmt.Fprintf(w, "  medium (75-89): %d (%.1f%%)\n", r.Medium, pct(r.Medium, r.Scored))
	fmt.Fprintf(w, "  low (<75): %d (%.1f%%)\n", r.Low, pct(r.Low, r.Scored))

	fmt.Fprintf(w, "\n%d tracts need intervention (%.1f%% of tracts)\n", r.NeedIntervention, pct(r.NeedIntervention, r.Tracts))
	fmt.Fprintf(w, "  improve computing device access in %d tracts\n", r.LowDevice)
	if r.WorstDeviceTract != "" {
		fmt.Fprintf(w, "  worst device access: tract %s\n", r.WorstDeviceTract)
	}
	fmt.Fprintf(w, "  expand broadband infrastructure in %d tracts\n", r.LowBroadband)
	fmt.Fprintf(w, "  smartphone-only dependency above %d%%: %d tracts (above %d%%: %d)\n",
		smartphoneDependent, r.SmartDependent, smartphoneHigh, r.SmartHigh)
	_, err := fmt.Fprintf(w, "\nData completeness: %s%%\n", r.Completeness)
	return err
}

// Sheets implements Report.
func (r *EquityReport) Sheets() []Sheet {
	return []Sheet{{
		Name:   "Equity",
		Header: []string{"metric", "value"},
		Rows: [][]any{
			{"tracts", r.Tracts},
			{"scored", r.Scored},
			{"mean", r.Mean},
			{"std", r.Std},
			{"best", r.Best},
			{"worst", r.Worst},
			{"high", r.High},
			{"medium", r.Medium},
			{"low", r.Low},
			{"low_device", r.LowDevice},
			{"low_broadband", r.LowBroadband},
			{"need_intervention", r.NeedIntervention},
			{"smartphone_dependent", r.SmartDependent},
			{"smartphone_high", r.SmartHigh},
			{"completeness", r.Completeness},
		},
	}}
}
