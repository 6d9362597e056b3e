package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/cfrfetch/internal/fetch"
	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/validate"
)

// ErrNotFound is returned when a catalog endpoint answers 404
var ErrNotFound = errors.New("catalog not found")

// Getter is the transport catalog requests go through
type Getter interface {
	Fetch(ctx context.Context, rawURL string, accept string) (*fetch.Outcome, error)
}

// Client reads the title, agency and part catalogs of the eCFR API
type Client struct {
	getter Getter
	base   string
}

// New creates a catalog client for the API rooted at baseURL
func New(getter Getter, baseURL string) *Client {
	return &Client{getter: getter, base: strings.TrimRight(baseURL, "/")}
}

// Titles lists every title in catalog order
func (c *Client) Titles(ctx context.Context) ([]model.Title, error) {
	u := c.base + "/versioner/v1/titles.json"
	var resp struct {
		Titles []model.Title `json:"titles"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("titles: %w", err)
	}
	return resp.Titles, nil
}

// TitleIndex fetches the titles and indexes them by number
func (c *Client) TitleIndex(ctx context.Context) (*model.TitleIndex, error) {
	titles, err := c.Titles(ctx)
	if err != nil {
		return nil, err
	}
	return model.NewTitleIndex(titles)
}

// Agencies lists top-level agencies with their children nested
func (c *Client) Agencies(ctx context.Context) ([]model.Agency, error) {
	u := c.base + "/admin/v1/agencies.json"
	var resp struct {
		Agencies []model.Agency `json:"agencies"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("agencies: %w", err)
	}
	return resp.Agencies, nil
}

// flexInt accepts a JSON number or a numeric string
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

// contentVersion is one entry of the versions endpoint. subpart is a string
// or null and title is a string.
type contentVersion struct {
	Type          string  `json:"type"`
	Part          string  `json:"part"`
	Identifier    string  `json:"identifier"`
	Name          string  `json:"name"`
	Title         flexInt `json:"title"`
	AmendmentDate string  `json:"amendment_date"`
	IssueDate     string  `json:"issue_date"`
	Substantive   bool    `json:"substantive"`
	Removed       bool    `json:"removed"`
	Subpart       *string `json:"subpart"`
}

// Parts lists the content versions of a title
func (c *Client) Parts(ctx context.Context, title int) ([]model.Part, error) {
	u := fmt.Sprintf("%s/versioner/v1/versions/title-%d.json", c.base, title)
	var resp struct {
		ContentVersions []contentVersion `json:"content_versions"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("parts of title %d: %w", title, err)
	}

	parts := make([]model.Part, 0, len(resp.ContentVersions))
	for _, v := range resp.ContentVersions {
		n := int(v.Title)
		if n == 0 {
			n = title
		}
		parts = append(parts, model.Part{
			Type:          v.Type,
			Part:          v.Part,
			Identifier:    v.Identifier,
			Name:          v.Name,
			TitleNumber:   n,
			AmendmentDate: v.AmendmentDate,
			IssueDate:     v.IssueDate,
			Substantive:   v.Substantive,
			Removed:       v.Removed,
			Subpart:       v.Subpart != nil && *v.Subpart != "",
		})
	}
	return parts, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	o, err := c.getter.Fetch(ctx, u, "application/json")
	if err != nil {
		return err
	}
	switch o.Kind {
	case fetch.Success:
		return validate.JSON(u, o.Body, out)
	case fetch.NotFound:
		return fmt.Errorf("GET %s: %w", u, ErrNotFound)
	default:
		return o.Err()
	}
}

var _ json.Unmarshaler = (*flexInt)(nil)
