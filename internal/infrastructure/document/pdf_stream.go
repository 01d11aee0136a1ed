package document

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"TechNotesScanner/internal/domain"
)

var (
	pageFileExpr    = regexp.MustCompile(`page_(\d+)`)
	disableConfOnce sync.Once
)

// contentStreamExtractor dumps page content streams with pdfcpu and reads
// the text showing operators out of them.
type contentStreamExtractor struct{}

func newContentStreamExtractor() contentStreamExtractor {
	disableConfOnce.Do(func() { model.ConfigPath = "disable" })
	return contentStreamExtractor{}
}

func (contentStreamExtractor) Name() string { return "content-stream" }

func (contentStreamExtractor) Extract(data []byte, maxPages int) (string, error) {
	dir, err := os.MkdirTemp("", "technotes-pdf-*")
	if err != nil {
		return "", fmt.Errorf("%w: temp dir: %v", domain.ErrExtraction, err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return "", fmt.Errorf("%w: write temp file: %v", domain.ErrExtraction, err)
	}
	out := filepath.Join(dir, "content")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("%w: content dir: %v", domain.ErrExtraction, err)
	}

	var selected []string
	if maxPages > 0 {
		selected = []string{fmt.Sprintf("1-%d", maxPages)}
	}
	if err := api.ExtractContentFile(in, out, selected, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("%w: extract content: %v", domain.ErrExtraction, err)
	}

	files, err := os.ReadDir(out)
	if err != nil {
		return "", fmt.Errorf("%w: read content dir: %v", domain.ErrExtraction, err)
	}

	type pageFile struct {
		page int
		path string
	}
	pages := make([]pageFile, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		nr := 0
		if m := pageFileExpr.FindStringSubmatch(file.Name()); m != nil {
			nr, _ = strconv.Atoi(m[1])
		}
		pages = append(pages, pageFile{page: nr, path: filepath.Join(out, file.Name())})
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].page < pages[j].page })

	texts := make([]string, 0, len(pages))
	for _, pf := range pages {
		raw, err := os.ReadFile(pf.path)
		if err != nil {
			return "", fmt.Errorf("%w: read page content: %v", domain.ErrExtraction, err)
		}
		if text := strings.TrimSpace(textFromContentStream(raw)); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

// textFromContentStream collects the operands of Tj, TJ, ' and " operators.
// String bytes are decoded as Latin-1, which matches simple-font encodings closely enough for a preview.
func textFromContentStream(stream []byte) string {
	var (
		b        strings.Builder
		operands []string
		depth    int
	)

	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readLiteral(stream, i)
			operands = append(operands, s)
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(stream) && stream[i+1] == '>':
			i += 2
		case c == '<':
			s, next := readHex(stream, i)
			operands = append(operands, s)
			i = next
		case c == '[':
			depth++
			i++
		case c == ']':
			if depth > 0 {
				depth--
			}
			i++
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isPDFSpace(c):
			i++
		default:
			start := i
			for i < len(stream) && !isPDFSpace(stream[i]) && !isPDFDelimiter(stream[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			token := string(stream[start:i])
			if n, err := strconv.ParseFloat(token, 64); err == nil {
				if depth > 0 && n <= -250 {
					operands = append(operands, " ")
				}
				continue
			}
			switch token {
			case "Tj", "TJ":
				b.WriteString(strings.Join(operands, ""))
			case "'", "\"":
				newline()
				b.WriteString(strings.Join(operands, ""))
			case "T*", "Td", "TD", "ET":
				newline()
			}
			operands = operands[:0]
		}
	}
	return b.String()
}

func readLiteral(s []byte, start int) (string, int) {
	var (
		out   []rune
		depth = 0
	)
	i := start
	for i < len(s) {
		c := s[i]
		switch c {
		case '(':
			depth++
			if depth > 1 {
				out = append(out, '(')
			}
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return string(out), i
			}
			out = append(out, ')')
		case '\\':
			i++
			if i >= len(s) {
				return string(out), i
			}
			e := s[i]
			switch e {
			case 'n':
				out = append(out, '\n')
				i++
			case 'r':
				out = append(out, '\r')
				i++
			case 't':
				out = append(out, '\t')
				i++
			case 'b', 'f':
				i++
			case '\r':
				i++
				if i < len(s) && s[i] == '\n' {
					i++
				}
			case '\n':
				i++
			default:
				if e >= '0' && e <= '7' {
					v, n := 0, 0
					for n < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
						v = v*8 + int(s[i]-'0')
						i++
						n++
					}
					out = append(out, rune(v&0xFF))
				} else {
					out = append(out, rune(e))
					i++
				}
			}
		default:
			out = append(out, rune(c))
			i++
		}
	}
	return string(out), i
}

func readHex(s []byte, start int) (string, int) {
	i := start + 1
	var digits []byte
	for i < len(s) && s[i] != '>' {
		if isHexDigit(s[i]) {
			digits = append(digits, s[i])
		}
		i++
	}
	if i < len(s) {
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]rune, 0, len(digits)/2)
	for j := 0; j+1 < len(digits); j += 2 {
		v, _ := strconv.ParseUint(string(digits[j:j+2]), 16, 8)
		out = append(out, rune(v))
	}
	return string(out), i
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
