package model

// Part is one content version entry of a title, as listed by the versioner
// versions endpoint.
type Part struct {
	Type          string `json:"type"`
	Part          string `json:"part"`
	Identifier    string `json:"identifier"`
	Name          string `json:"name"`
	TitleNumber   int    `json:"title"`
	AmendmentDate string `json:"amendment_date"`
	IssueDate     string `json:"issue_date"`
	Substantive   bool   `json:"substantive"`
	Removed       bool   `json:"removed"`
	Subpart       bool   `json:"subpart"`          // entry sits inside a subpart
	Agency        string `json:"agency,omitempty"` // not always echoed by the API
}
