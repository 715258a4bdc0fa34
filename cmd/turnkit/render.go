package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// renderer prints markdown reports, styled through glamour on terminals and
// verbatim otherwise.
type renderer struct {
	w  io.Writer
	md *glamour.TermRenderer
}

func newRenderer(f *os.File) *renderer {
	r := &renderer{w: f}
	if term.IsTerminal(int(f.Fd())) {
		if tr, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			r.md = tr
		}
	}
	return r
}

// styled reports whether output goes through glamour.
func (r *renderer) styled() bool {
	return r.md != nil
}

func (r *renderer) Markdown(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if r.md != nil {
		if rendered, err := r.md.Render(text); err == nil {
			fmt.Fprint(r.w, rendered)
			return
		}
	}
	fmt.Fprintln(r.w, text)
}

func (r *renderer) Printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *renderer) JSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
