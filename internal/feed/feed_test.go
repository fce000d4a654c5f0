package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `{"message_id": 10, "channel": {"id": -1001, "name": "Bourse", "username": "@bourse"}, "text": "سهام #فولاد", "date": "2024-03-10T09:30:00Z", "views_count": 120}

not json
{"message_id": 11, "channel": {"id": -1001, "name": "Bourse"}, "text": "<p>خبر <b>فولاد</b></p><p>دوم</p><script>x()</script>", "date": "2024-03-10T10:00:00+03:30", "format": "html"}
{"message_id": 12, "channel": {"id": -1001, "name": "Bourse"}, "text": "x", "date": "2024-03-10T10:00:00Z", "format": "pdf"}
`

func TestLoad(t *testing.T) {
	items, err := Load(strings.NewReader(sample), "sample")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	first := items[0]
	if first.MessageID != 10 || first.Channel.ID != -1001 || first.Channel.Username != "@bourse" || first.Views != 120 {
		t.Fatalf("first = %+v", first)
	}
	if !first.Date.Equal(time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", first.Date)
	}
	if items[1].Text != "خبر فولاد\nدوم" {
		t.Fatalf("html text = %q", items[1].Text)
	}
	if !items[1].Date.Equal(time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)) {
		t.Fatalf("offset date = %v", items[1].Date.UTC())
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.jsonl")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	items, err := LoadFile(path)
	if err != nil || len(items) != 2 {
		t.Fatalf("LoadFile = %d items, %v", len(items), err)
	}

	empty := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(empty, []byte("\n\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(empty); err == nil {
		t.Fatal("expected error for file without items")
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"plain":                         "plain",
		"a<br>b":                        "a\nb",
		"<div>one</div><div>two</div>": "one\ntwo",
		"<style>p{}</style>text":        "text",
	}
	for in, want := range cases {
		if got := StripHTML(in); got != want {
			t.Errorf("StripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}
