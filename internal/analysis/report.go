package analysis

import (
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Report is the result of one analysis.
type Report interface {
	// WriteText renders the report for a terminal.
	WriteText(w io.Writer) error
	// Sheets returns the report as worksheet tables.
	Sheets() []Sheet
}

// ErrInsufficientData is returned when an analysis lacks the columns or
// complete rows it needs.
var ErrInsufficientData = eris.New("analysis: insufficient data")

// Format selects report rendering.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", eris.Errorf("analysis: unknown format %q (want text, json or yaml)", s)
}

// Render writes r to w in the given format.
func Render(w io.Writer, format Format, r Report) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "analysis: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "analysis: encode yaml")
		}
		return eris.Wrap(enc.Close(), "analysis: encode yaml")
	default:
		return r.WriteText(w)
	}
}

// Num is a float that encodes NaN and infinities as null.
type Num float64

// Valid reports whether n is a finite number.
func (n Num) Valid() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MarshalJSON implements json.Marshaler.
func (n Num) MarshalJSON() ([]byte, error) {
	if !n.Valid() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(n), 'f', -1, 64)), nil
}

// MarshalYAML implements yaml.Marshaler.
func (n Num) MarshalYAML() (any, error) {
	if !n.Valid() {
		return nil, nil
	}
	return float64(n), nil
}

// String formats n with one decimal, or "n/a".
func (n Num) String() string {
	return n.Format(1)
}

// Format formats n with prec decimals, or "n/a".
func (n Num) Format(prec int) string {
	if !n.Valid() {
		return "n/a"
	}
	return strconv.FormatFloat(float64(n), 'f', prec, 64)
}

var titler = cases.Title(language.English)

// Label turns a field name into a display label:
// "pct_smartphone_only" becomes "Pct Smartphone Only".
func Label(field string) string {
	return titler.String(strings.ReplaceAll(field, "_", " "))
}
