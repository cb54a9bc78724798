// Package kbart reads KBART (Knowledge Bases And Related Tools) title lists.
//
// A KBART file is tab-separated text with one title per line. Only column
// positions are relied upon: column 0 holds publication_title (the header
// row repeats the literal column name) and column 9 holds title_url.
package kbart

import (
	"errors"
	"fmt"
)

// Column positions used by the link checker.
const (
	TitleColumn = 0
	URLColumn   = 9
)

// HeaderTitle is the value of column 0 on a KBART header row.
const HeaderTitle = "publication_title"

// ErrMissingURLColumn is returned when a data row has no title_url column.
var ErrMissingURLColumn = errors.New("kbart: record has no title_url column")

// Record is one parsed KBART line.
type Record struct {
	// Line is the 1-based line number in the source.
	Line   int
	Fields []string
}

// IsHeader reports whether the record is a KBART header row.
func (r Record) IsHeader() bool {
	return len(r.Fields) > TitleColumn && r.Fields[TitleColumn] == HeaderTitle
}

// URL returns the raw title_url field.
func (r Record) URL() (string, error) {
	if len(r.Fields) <= URLColumn {
		return "", fmt.Errorf("line %d: %w", r.Line, ErrMissingURLColumn)
	}
	return r.Fields[URLColumn], nil
}

// WithURL returns a copy of the record with title_url replaced.
func (r Record) WithURL(u string) (Record, error) {
	if len(r.Fields) <= URLColumn {
		return Record{}, fmt.Errorf("line %d: %w", r.Line, ErrMissingURLColumn)
	}
	fields := make([]string, len(r.Fields))
	copy(fields, r.Fields)
	fields[URLColumn] = u
	return Record{Line: r.Line, Fields: fields}, nil
}
