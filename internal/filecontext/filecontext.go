// Package filecontext loads workspace files and renders them as auxiliary
// prompt context.
package filecontext

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// EntryType distinguishes files from folders in a FileMap.
type EntryType string

const (
	EntryFile   EntryType = "file"
	EntryFolder EntryType = "folder"
)

// DefaultMaxFileBytes is the largest file Load reads.
const DefaultMaxFileBytes = 256 << 10

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".turnkit":     true,
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Entry is one item of a FileMap.
type Entry struct {
	Type     EntryType `json:"type"`
	Content  string    `json:"content,omitempty"`
	IsBinary bool      `json:"isBinary,omitempty"`
}

// FileMap maps slash-separated relative paths to entries.
type FileMap map[string]Entry

// Files returns the sorted paths of text file entries.
func (m FileMap) Files() []string {
	paths := make([]string, 0, len(m))
	for p, e := range m {
		if e.Type == EntryFile && !e.IsBinary {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// LoadOptions tunes Load.
type LoadOptions struct {
	MaxFileBytes int64
	Include      []string
}

// Load walks root and collects files. Include, when set, holds glob patterns
// matched against relative paths; unmatched files are skipped. Binary files
// are recorded without content.
func Load(root string, opts LoadOptions) (FileMap, error) {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	out := FileMap{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			out[rel] = Entry{Type: EntryFolder}
			return nil
		}
		if !d.Type().IsRegular() || !matches(rel, opts.Include) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > opts.MaxFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if isBinary(data) {
			out[rel] = Entry{Type: EntryFile, IsBinary: true}
			return nil
		}
		out[rel] = Entry{Type: EntryFile, Content: string(data)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	return out, nil
}

func matches(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(head)
}

// Render turns the file map into prompt text. HTML documents are reduced to
// their title and visible text.
func Render(m FileMap) (string, error) {
	var b strings.Builder
	var errs []error
	for _, p := range m.Files() {
		content := m[p].Content
		lang := strings.TrimPrefix(filepath.Ext(p), ".")
		if lang == "html" || lang == "htm" {
			text, err := HTMLText(content)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				continue
			}
			content, lang = text, "text"
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "File: %s\n```%s\n%s\n```", p, lang, strings.TrimRight(content, "\n"))
	}
	return b.String(), errors.Join(errs...)
}

// HTMLText extracts the title and body text of an HTML document.
func HTMLText(doc string) (string, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	parsed.Find("script, style, noscript").Remove()

	var parts []string
	if title := normalize(parsed.Find("title").First().Text()); title != "" {
		parts = append(parts, "Title: "+title)
	}
	if body := normalize(parsed.Find("body").Text()); body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n"), nil
}

func normalize(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
