package store

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strconv"

	"github.com/ppiankov/cfrfetch/internal/model"
)

var (
	titlesHeader = []string{"number", "name", "latest_amended_on", "latest_issue_date", "up_to_date_as_of", "reserved"}
	partsHeader  = []string{"type", "part", "title", "identifier", "name", "amendment_date", "issue_date", "substantive", "removed", "subpart"}
)

// TitlesCSVPath returns {root}/AllTitles/titles.csv
func (d *Documents) TitlesCSVPath() string {
	return filepath.Join(d.root, AllTitlesDir, "titles.csv")
}

// PartsCSVPath returns {root}/AllTitles/title-N/Parts.csv
func (d *Documents) PartsCSVPath(title int) string {
	return filepath.Join(d.TitleDir(title), "Parts.csv")
}

// PutTitlesCSV writes the title catalog summary and returns its path
func (d *Documents) PutTitlesCSV(titles []model.Title) (string, error) {
	rows := make([][]string, 0, len(titles))
	for _, t := range titles {
		rows = append(rows, []string{
			strconv.Itoa(t.Number),
			t.Name,
			t.LatestAmendedOn,
			t.LatestIssueDate,
			t.UpToDateAsOf,
			strconv.FormatBool(t.Reserved),
		})
	}
	path := d.TitlesCSVPath()
	return path, writeCSV(path, titlesHeader, rows)
}

// PutPartsCSV writes the parts listing of one title and returns its path.
// titleName fills the title column, matching the catalog's display name.
func (d *Documents) PutPartsCSV(title int, titleName string, parts []model.Part) (string, error) {
	rows := make([][]string, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, []string{
			p.Type,
			p.Part,
			titleName,
			p.Identifier,
			p.Name,
			p.AmendmentDate,
			p.IssueDate,
			strconv.FormatBool(p.Substantive),
			strconv.FormatBool(p.Removed),
			strconv.FormatBool(p.Subpart),
		})
	}
	path := d.PartsCSVPath(title)
	return path, writeCSV(path, partsHeader, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return WriteFileAtomic(path, buf.Bytes())
}
