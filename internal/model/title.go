package model

import (
	"fmt"
	"sort"
)

// Title is a top-level numbered division of the CFR, as listed by the
// versioner titles catalog.
type Title struct {
	Number          int    `json:"number"`
	Name            string `json:"name"`
	LatestAmendedOn string `json:"latest_amended_on"`
	LatestIssueDate string `json:"latest_issue_date"`
	UpToDateAsOf    string `json:"up_to_date_as_of"`
	Reserved        bool   `json:"reserved"`
}

// DateField names which of a title's dates scopes hierarchy and document queries
type DateField string

const (
	DateLatestIssue   DateField = "latest_issue_date"
	DateLatestAmended DateField = "latest_amended_on"
	DateUpToDateAsOf  DateField = "up_to_date_as_of"
)

// Valid reports whether f names a known date field
func (f DateField) Valid() bool {
	switch f {
	case DateLatestIssue, DateLatestAmended, DateUpToDateAsOf:
		return true
	}
	return false
}

// AsOf returns the title's date for the given field. Unknown fields fall back
// to the latest issue date.
func (t Title) AsOf(field DateField) string {
	switch field {
	case DateLatestAmended:
		return t.LatestAmendedOn
	case DateUpToDateAsOf:
		return t.UpToDateAsOf
	default:
		return t.LatestIssueDate
	}
}

// Label returns a short display form, e.g. "Title 7 (Agriculture)"
func (t Title) Label() string {
	if t.Name == "" {
		return fmt.Sprintf("Title %d", t.Number)
	}
	return fmt.Sprintf("Title %d (%s)", t.Number, t.Name)
}

// TitleIndex is a read-only lookup of titles keyed by number
type TitleIndex struct {
	byNumber map[int]Title
	order    []int
}

// NewTitleIndex builds an index from the catalog. Title numbers must be unique.
func NewTitleIndex(titles []Title) (*TitleIndex, error) {
	idx := &TitleIndex{
		byNumber: make(map[int]Title, len(titles)),
		order:    make([]int, 0, len(titles)),
	}
	for _, t := range titles {
		if t.Number <= 0 {
			return nil, fmt.Errorf("invalid title number %d (%q)", t.Number, t.Name)
		}
		if _, dup := idx.byNumber[t.Number]; dup {
			return nil, fmt.Errorf("duplicate title number %d", t.Number)
		}
		idx.byNumber[t.Number] = t
		idx.order = append(idx.order, t.Number)
	}
	return idx, nil
}

// Get returns the title with the given number
func (i *TitleIndex) Get(number int) (Title, bool) {
	t, ok := i.byNumber[number]
	return t, ok
}

// Len returns the number of indexed titles
func (i *TitleIndex) Len() int {
	return len(i.order)
}

// All returns titles in catalog order
func (i *TitleIndex) All() []Title {
	out := make([]Title, 0, len(i.order))
	for _, n := range i.order {
		out = append(out, i.byNumber[n])
	}
	return out
}

// Numbers returns the indexed title numbers in ascending order
func (i *TitleIndex) Numbers() []int {
	out := append([]int(nil), i.order...)
	sort.Ints(out)
	return out
}
