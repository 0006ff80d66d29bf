package specfile

import (
	"fmt"
	"os"
	"strings"
)

// Document is an ordered-line view of a build spec file
type Document struct {
	Path  string
	lines []string
	// trailingNewline preserves the original file ending on save.
	trailingNewline bool
}

// LoadDocument reads a spec file into the line model
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	text := string(data)
	trailing := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	return &Document{
		Path:            path,
		lines:           strings.Split(text, "\n"),
		trailingNewline: trailing,
	}, nil
}

// Lines returns a copy of the document lines
func (d *Document) Lines() []string {
	out := make([]string, len(d.lines))
	copy(out, d.lines)
	return out
}

// String renders the document content
func (d *Document) String() string {
	text := strings.Join(d.lines, "\n")
	if d.trailingNewline {
		text += "\n"
	}
	return text
}

// insertAfter places a line directly after index i
func (d *Document) insertAfter(i int, line string) {
	d.lines = append(d.lines, "")
	copy(d.lines[i+2:], d.lines[i+1:])
	d.lines[i+1] = line
}

// prepend places a line at the top of the document
func (d *Document) prepend(line string) {
	d.lines = append([]string{line}, d.lines...)
}

// Save writes the document back to its path
func (d *Document) Save() error {
	if err := os.WriteFile(d.Path, []byte(d.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write spec file: %w", err)
	}
	return nil
}
