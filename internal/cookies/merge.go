// Package cookies merges Netscape-format cookie files so a user can top up
// the cookies the downloader uses without losing the existing ones.
package cookies

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/MimeLyc/fetchbot/internal/docstore"
)

const (
	DefaultHeader = "# Netscape HTTP Cookie File"

	// FormatExample shows a well-formed cookie line.
	FormatExample = ".example.com\tTRUE\t/\tFALSE\t1716239021\tsessionid\tabc123"

	cookieFields = 7
)

type Result struct {
	Content         string
	Added           int
	Total           int
	Incoming        int
	InvalidIncoming int
}

// Merge combines two cookie files. Header lines (starting with "#") keep
// their first-seen order without duplicates, and so do cookie lines.
// Incoming cookie lines with fewer than seven tab-separated fields are
// counted as invalid but kept.
func Merge(existing, incoming string) Result {
	m := merger{
		headerSeen: make(map[string]struct{}),
		cookieSeen: make(map[string]struct{}),
	}
	m.add(existing, false)
	m.add(incoming, true)

	if len(m.headers) == 0 {
		m.headers = append(m.headers, DefaultHeader)
	}

	lines := make([]string, 0, len(m.headers)+1+len(m.cookies))
	lines = append(lines, m.headers...)
	lines = append(lines, "")
	lines = append(lines, m.cookies...)

	m.result.Content = strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n") + "\n"
	m.result.Total = len(m.cookies)
	return m.result
}

type merger struct {
	headers    []string
	cookies    []string
	headerSeen map[string]struct{}
	cookieSeen map[string]struct{}
	result     Result
}

func (m *merger) add(content string, incoming bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if _, ok := m.headerSeen[line]; !ok {
				m.headerSeen[line] = struct{}{}
				m.headers = append(m.headers, line)
			}
			continue
		}

		if incoming {
			m.result.Incoming++
			if !Valid(line) {
				m.result.InvalidIncoming++
			}
		}
		if _, ok := m.cookieSeen[line]; ok {
			continue
		}
		m.cookieSeen[line] = struct{}{}
		m.cookies = append(m.cookies, line)
		if incoming {
			m.result.Added++
		}
	}
}

// Valid reports whether line has the seven Netscape cookie fields.
func Valid(line string) bool {
	return len(strings.Split(line, "\t")) >= cookieFields
}

// MergeFile merges incoming into the cookie file at path and replaces it
// atomically. A missing file is treated as empty.
func MergeFile(path, incoming string) (Result, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Result{}, fmt.Errorf("read cookie file: %w", err)
	}

	result := Merge(string(existing), incoming)
	if err := docstore.WriteFileAtomic(path, []byte(result.Content)); err != nil {
		return result, fmt.Errorf("write cookie file: %w", err)
	}
	return result, nil
}
