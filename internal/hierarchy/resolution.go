package hierarchy

import (
	"sort"

	"github.com/ppiankov/cfrfetch/internal/model"
)

// Verdict is what the resolver decided about one catalog reference
type Verdict int

const (
	// Confirmed references carry a Chapter
	Confirmed Verdict = iota
	// NotApplicable references were looked up and have no chapter ancestor
	NotApplicable
	// Ignored references were never looked up
	Ignored
)

func (v Verdict) String() string {
	switch v {
	case Confirmed:
		return "confirmed"
	case NotApplicable:
		return "not_applicable"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Decision pairs a catalog reference with its verdict
type Decision struct {
	Reference model.Reference
	Verdict   Verdict
	Chapter   Chapter // set only when Verdict is Confirmed
	AsOf      string
	Reason    string // why an Ignored reference was not looked up
}

// AgencyResolution holds the decisions for one agency in reference order
type AgencyResolution struct {
	Agency    model.Agency
	Decisions []Decision
}

// Confirmed returns the confirmed chapters in resolution order
func (a *AgencyResolution) Confirmed() []Chapter {
	var out []Chapter
	for _, d := range a.Decisions {
		if d.Verdict == Confirmed {
			out = append(out, d.Chapter)
		}
	}
	return out
}

// Count returns the number of decisions with verdict v
func (a *AgencyResolution) Count(v Verdict) int {
	n := 0
	for _, d := range a.Decisions {
		if d.Verdict == v {
			n++
		}
	}
	return n
}

// Resolution collects confirmed chapters across agencies. ByAgency and
// ByTitle are views over the same values; neither owns the chapters.
type Resolution struct {
	chapters []Chapter
}

// Add appends confirmed chapters
func (r *Resolution) Add(chapters ...Chapter) {
	r.chapters = append(r.chapters, chapters...)
}

// Chapters returns every confirmed chapter in the order it was added
func (r *Resolution) Chapters() []Chapter {
	return append([]Chapter(nil), r.chapters...)
}

// Len returns the number of confirmed chapters
func (r *Resolution) Len() int {
	return len(r.chapters)
}

// ByAgency groups chapters by agency slug
func (r *Resolution) ByAgency() map[string][]Chapter {
	out := make(map[string][]Chapter)
	for _, c := range r.chapters {
		out[c.agency] = append(out[c.agency], c)
	}
	return out
}

// ByTitle groups chapters by title number
func (r *Resolution) ByTitle() map[int][]Chapter {
	out := make(map[int][]Chapter)
	for _, c := range r.chapters {
		out[c.title] = append(out[c.title], c)
	}
	return out
}

// Titles returns the distinct title numbers with at least one confirmed
// chapter, ascending.
func (r *Resolution) Titles() []int {
	byTitle := r.ByTitle()
	out := make([]int, 0, len(byTitle))
	for n := range byTitle {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
