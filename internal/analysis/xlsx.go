package analysis

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet is a named table within a report export.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// ExportXLSX writes every sheet of the reports to one workbook at path.
// Duplicate sheet names get a numeric suffix.
func ExportXLSX(path string, reports ...Report) error {
	f := xlsx.NewFile()
	seen := make(map[string]int)
	for _, r := range reports {
		for _, sh := range r.Sheets() {
			name := sh.Name
			if n := seen[name]; n > 0 {
				name = fmt.Sprintf("%s %d", name, n+1)
			}
			seen[sh.Name]++

			sheet, err := f.AddSheet(name)
			if err != nil {
				return eris.Wrapf(err, "xlsx: add sheet %q", name)
			}
			header := sheet.AddRow()
			for _, h := range sh.Header {
				header.AddCell().SetString(h)
			}
			for _, vals := range sh.Rows {
				row := sheet.AddRow()
				for _, v := range vals {
					setCell(row.AddCell(), v)
				}
			}
		}
	}
	if len(f.Sheets) == 0 {
		return eris.New("xlsx: nothing to export")
	}
	return eris.Wrap(f.Save(path), "xlsx: save workbook")
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
	case Num:
		if x.Valid() {
			c.SetFloat(float64(x))
		}
	case float64:
		c.SetFloat(x)
	case int:
		c.SetInt(x)
	case int64:
		c.SetInt64(x)
	case string:
		c.SetString(x)
	default:
		c.SetValue(x)
	}
}
