package kbart

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\uFEFF"

// Stream yields KBART records in source order. Next returns io.EOF once the
// source is exhausted.
type Stream interface {
	Next() (Record, error)
}

// Reader is a Stream over tab-separated text.
type Reader struct {
	br   *bufio.Reader
	line int
}

// NewReader wraps r. Blank lines are skipped; a leading byte order mark and
// CRLF line endings are tolerated.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next non-blank record.
func (r *Reader) Next() (Record, error) {
	for {
		raw, err := r.br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("read line %d: %w", r.line+1, err)
		}
		if raw == "" && errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		r.line++
		if r.line == 1 {
			raw = strings.TrimPrefix(raw, utf8BOM)
		}
		raw = strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(raw) == "" {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			continue
		}
		return Record{Line: r.line, Fields: strings.Split(raw, "\t")}, nil
	}
}
