// Package pdf turns PDF files into per-page text and word chunks.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"

	rscpdf "rsc.io/pdf"
)

// ErrNoText — в PDF нет извлекаемого текста
var ErrNoText = errors.New("pdf: no extractable text")

// Page is the text of one page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// ExtractPages returns the sanitized text of every non-empty page. When the
// native reader fails or finds nothing, pdftotext is tried if it is installed.
func ExtractPages(path string) ([]Page, error) {
	pages, err := readPages(path)
	if err == nil && len(pages) > 0 {
		return pages, nil
	}
	if _, lookErr := exec.LookPath("pdftotext"); lookErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrNoText
	}
	fallback, ferr := pdftotextPages(path)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	if len(fallback) == 0 {
		return nil, ErrNoText
	}
	return fallback, nil
}

func readPages(path string) (pages []Page, err error) {
	// rsc.io/pdf panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf: parse %s: %v", path, r)
		}
	}()

	r, err := rscpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdf: open %s: %w", path, err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		if text := Sanitize(pageText(p.Content().Text)); text != "" {
			pages = append(pages, Page{Number: i, Text: text})
		}
	}
	return pages, nil
}

// pageText joins positioned glyph runs, inserting spaces at horizontal gaps
// and newlines when the baseline moves.
func pageText(runs []rscpdf.Text) string {
	var b strings.Builder
	var prev *rscpdf.Text
	for i := range runs {
		t := &runs[i]
		s := strings.ReplaceAll(t.S, "\x00", "")
		if s == "" {
			continue
		}
		if prev != nil {
			switch {
			case math.Abs(t.Y-prev.Y) > prev.FontSize/2:
				b.WriteByte('\n')
			case t.X-(prev.X+prev.W) > prev.FontSize*0.15:
				b.WriteByte(' ')
			}
		}
		b.WriteString(s)
		prev = t
	}
	return b.String()
}

func pdftotextPages(path string) ([]Page, error) {
	cmd := exec.Command("pdftotext", "-enc", "UTF-8", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext %s: %w", path, err)
	}
	var pages []Page
	// pdftotext separates pages with form feeds
	for i, raw := range bytes.Split(out, []byte{'\f'}) {
		if text := Sanitize(string(raw)); text != "" {
			pages = append(pages, Page{Number: i + 1, Text: text})
		}
	}
	return pages, nil
}

// Sanitize collapses whitespace and drops null bytes.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.Join(strings.Fields(s), " ")
}

// ChunkByWords splits text into windows of size words, each overlapping the
// previous one by overlap words.
func ChunkByWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if size <= 0 {
		size = 300
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []string
	for i := 0; i < len(words); i += size - overlap {
		end := min(i+size, len(words))
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
