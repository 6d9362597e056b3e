package validate

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// Content kinds reported by MalformedError
const (
	KindXML  = "xml"
	KindJSON = "json"
)

// ErrEmptyBody is returned when a body holds no content at all
var ErrEmptyBody = errors.New("empty body")

// MalformedError is a 200 response whose body cannot be decoded as the
// expected content type. It carries the raw body for diagnostics.
type MalformedError struct {
	URL  string
	Kind string
	Body []byte
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s response from %s: %v", e.Kind, e.URL, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Snippet returns at most n bytes of the raw body, cut on a rune boundary
func (e *MalformedError) Snippet(n int) string {
	if n <= 0 || len(e.Body) <= n {
		return string(e.Body)
	}
	b := e.Body[:n]
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b) + "..."
}

// XML checks that body is a single well-formed XML document. Non-UTF-8
// encodings declared in the prolog are decoded through x/net's charset tables.
func XML(url string, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &MalformedError{URL: url, Kind: KindXML, Body: body, Err: ErrEmptyBody}
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = true

	roots := 0
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedError{URL: url, Kind: KindXML, Body: body, Err: err}
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}

	switch {
	case roots == 0:
		return &MalformedError{URL: url, Kind: KindXML, Body: body, Err: errors.New("no root element")}
	case roots > 1:
		return &MalformedError{URL: url, Kind: KindXML, Body: body, Err: fmt.Errorf("%d root elements", roots)}
	}
	return nil
}

// JSON decodes body into v, reporting decode failures as *MalformedError
func JSON(url string, body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &MalformedError{URL: url, Kind: KindJSON, Body: body, Err: ErrEmptyBody}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &MalformedError{URL: url, Kind: KindJSON, Body: body, Err: err}
	}
	return nil
}

// IsMalformed reports whether err wraps a *MalformedError
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
