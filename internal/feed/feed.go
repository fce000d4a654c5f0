// Package feed reads exported channel messages from JSONL files.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/cognicore/tagstream/pkg/tagstream/ingest"
)

// Body formats.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// Item is one JSONL line: a raw message plus the format of its text.
type Item struct {
	ingest.RawMessage
	Format string `json:"format,omitempty"`
}

// maxLine bounds a single JSONL line.
const maxLine = 4 << 20

// Load decodes one item per non-empty line. Malformed lines are logged and
// skipped; html bodies are flattened to text.
func Load(r io.Reader, name string) ([]ingest.RawMessage, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var out []ingest.RawMessage
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var item Item
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			slog.Warn("skipping malformed line", "file", name, "line", lineNo, "error", err)
			continue
		}
		switch strings.ToLower(item.Format) {
		case "", FormatText:
		case FormatHTML:
			item.Text = StripHTML(item.Text)
		default:
			slog.Warn("skipping item with unknown format", "file", name, "line", lineNo, "format", item.Format)
			continue
		}
		out = append(out, item.RawMessage)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

// LoadFile loads items from a JSONL file.
func LoadFile(path string) ([]ingest.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	items, err := Load(f, path)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no valid items found in %s", path)
	}
	return items, nil
}

// StripHTML returns the text content of an HTML fragment. Block elements
// and line breaks become newlines; script and style content is dropped.
func StripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "br":
				buf.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.Data] {
			buf.WriteByte('\n')
		}
	}
	walk(doc)

	return strings.TrimSpace(buf.String())
}

var blocks = map[string]bool{
	"p": true, "div": true, "li": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true,
}
