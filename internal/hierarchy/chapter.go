package hierarchy

import "fmt"

// Chapter is a (title, chapter) pair confirmed to exist in the title's
// hierarchy on a given date. Its fields are unexported so that only a
// Resolver can produce one; the document fetch stage accepts nothing else.
type Chapter struct {
	code   string // the label the ancestry lookup was asked about
	title  int
	agency string
	label  string // display label from the ancestry response, diagnostics only
	asOf   string
}

// Code returns the chapter identifier used in document queries, e.g. "I"
func (c Chapter) Code() string { return c.code }

// TitleNumber returns the number of the containing title
func (c Chapter) TitleNumber() int { return c.title }

// AgencySlug returns the key of the agency that referenced the chapter
func (c Chapter) AgencySlug() string { return c.agency }

// Label returns the heading reported by the ancestry endpoint
func (c Chapter) Label() string { return c.label }

// AsOf returns the date the chapter was confirmed for
func (c Chapter) AsOf() string { return c.asOf }

// IsZero reports whether c was never confirmed
func (c Chapter) IsZero() bool { return c.code == "" }

func (c Chapter) String() string {
	return fmt.Sprintf("title %d chapter %s", c.title, c.code)
}
