package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
)

// ErrJSON produces a standard JSON error response.
func ErrJSON(msg string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   msg,
	}
}

// LimitStr returns a string truncated to n runes with "..." appended if longer.
func LimitStr(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// CleanJSON strips reasoning blocks, markdown fences and any prose around the
// outermost JSON object in a model reply.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "<think>") {
		if idx := strings.LastIndex(s, "</think>"); idx != -1 {
			s = s[idx+len("</think>"):]
		}
	}
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
				lines = lines[:len(lines)-1]
			}
			s = strings.Join(lines, "\n")
		}
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j != -1 && j < len(s)-1 {
		s = s[:j+1]
	}
	return strings.TrimSpace(s)
}

var paragraphRX = regexp.MustCompile(`\n\s*\n`)

// ChunkText splits text into pieces of at most limit runes. Paragraphs are
// packed together while they fit. A paragraph longer than limit is cut after
// the last whitespace that fits, or mid-word when there is none.
func ChunkText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var b strings.Builder
	n := 0
	for _, para := range paragraphRX.Split(text, -1) {
		for _, piece := range cutRunes(strings.TrimSpace(para), limit) {
			size := utf8.RuneCountInString(piece)
			if n > 0 && n+2+size > limit {
				chunks = append(chunks, b.String())
				b.Reset()
				n = 0
			}
			if n > 0 {
				b.WriteString("\n\n")
				n += 2
			}
			b.WriteString(piece)
			n += size
		}
	}
	if n > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func cutRunes(s string, limit int) []string {
	var out []string
	rs := []rune(s)
	for len(rs) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(rs[i]) {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRightFunc(string(rs[:cut]), unicode.IsSpace))
		for cut < len(rs) && unicode.IsSpace(rs[cut]) {
			cut++
		}
		rs = rs[cut:]
	}
	if len(rs) > 0 {
		out = append(out, string(rs))
	}
	return out
}

var ErrStreamingUnsupported = errors.New("streaming not supported: response writer is not flushable")

type SSEWriter struct {
	w    http.ResponseWriter
	fl   http.Flusher
	done bool
}

// NewSSEWriter writes the event-stream headers and returns a writer.
func NewSSEWriter(c echo.Context) (*SSEWriter, error) {
	w := c.Response()
	fl, ok := w.Writer.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()
	return &SSEWriter{w: w, fl: fl}, nil
}

// Event sends an SSE event with an event name and JSON encoded data.
func (s *SSEWriter) Event(event string, data any) error {
	if s.done {
		return nil
	}
	// strings are quoted too so multi-line text stays on one data line
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// Close finalizes the stream.
func (s *SSEWriter) Close() {
	if s.done {
		return
	}
	s.done = true
	fmt.Fprint(s.w, "event: close\ndata: null\n\n")
	s.fl.Flush()
}
