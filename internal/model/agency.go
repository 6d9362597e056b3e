package model

import (
	"regexp"
	"strings"
)

// Agency is an issuing body from the admin agencies catalog. Its regulatory
// scope is only known as loose (title, chapter) references.
type Agency struct {
	Name         string      `json:"name"`
	ShortName    string      `json:"short_name,omitempty"`
	DisplayName  string      `json:"display_name,omitempty"`
	SortableName string      `json:"sortable_name,omitempty"`
	Slug         string      `json:"slug"`
	References   []Reference `json:"cfr_references"`
	Children     []Agency    `json:"children,omitempty"`
}

// Reference is a loose pointer into the CFR hierarchy. The catalog may name a
// chapter, a subtitle, a subchapter or a part; only chapter references are
// resolved.
type Reference struct {
	Title      int    `json:"title"`
	Chapter    string `json:"chapter,omitempty"`
	Subtitle   string `json:"subtitle,omitempty"`
	Subchapter string `json:"subchapter,omitempty"`
	Part       string `json:"part,omitempty"`
}

// IsChapter reports whether the reference names a chapter
func (r Reference) IsChapter() bool {
	return strings.TrimSpace(r.Chapter) != ""
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a free-form name into a directory-safe slug, e.g.
// "Environmental Protection Agency" -> "environmental-protection-agency"
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Dir returns the agency's output directory name
func (a Agency) Dir() string {
	if a.Slug != "" {
		return Slugify(a.Slug)
	}
	return Slugify(a.Name)
}

// Key returns the stable identifier used to relate chapters back to the agency
func (a Agency) Key() string {
	return a.Dir()
}

// Flatten returns the agencies with their children appended directly after
// each parent, preserving catalog order.
func Flatten(agencies []Agency) []Agency {
	var out []Agency
	var walk func([]Agency)
	walk = func(list []Agency) {
		for _, a := range list {
			children := a.Children
			a.Children = nil
			out = append(out, a)
			walk(children)
		}
	}
	walk(agencies)
	return out
}
