package normalize

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", " \n\t ", ""},
		{"arabic kaf and yeh", "كتاب علي", "کتاب علی"},
		{"alef variants", "أحمد إيران ٱلله", "احمد ایران الله"},
		{"teh marbuta and waw hamza", "مؤسسة", "موسسه"},
		{"alef maksura", "مصطفى", "مصطفی"},
		{"diacritics stripped", "كَتَبَ", "کتب"},
		{"zwnj becomes space", "می\u200cروم", "می روم"},
		{"zero width removed", "فو\u200bلای", "فولای"},
		{"hashtag unwrapped", "#فولای", "فولای"},
		{"fullwidth hashtag", "＃خودرو امروز", "خودرو امروز"},
		{"double marker", "##foo bar", "foo bar"},
		{"hashtag mid sentence", "سهم (#فملی) رشد", "سهم (فملی) رشد"},
		{"trailing marker kept", "C# code", "C# code"},
		{"inner marker kept", "a#b", "a#b"},
		{"lone marker kept", "# title", "# title"},
		{"whitespace collapsed", "  سلام \n\n  دنیا\t", "سلام دنیا"},
		{"latin untouched", "Hello World", "Hello World"},
		{"madda alef preserved", "آب", "آب"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"#فولای و #خودرو",
		"##foo #\u3000bar",
		"مؤسسه\u200cی كِتاب",
		"\u200c#\u200cx",
		"#\u200eسهم",
		"a ## b #_c",
		"ﻛﺘﺎﺏ",
		"line1\r\nline2 end",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeNoEdgeWhitespace(t *testing.T) {
	for _, in := range []string{" x ", "\n#y\n", "\u200cz\u200c"} {
		got := Normalize(in)
		if got != strings.TrimSpace(got) {
			t.Errorf("Normalize(%q) = %q has edge whitespace", in, got)
		}
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("سهم (فملی) رشد، 12% بازار_پول")
	want := []string{"سهم", "فملی", "رشد", "12", "بازار_پول"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokens = %v, want %v", got, want)
	}
	if len(Tokens("")) != 0 {
		t.Fatal("expected no tokens for empty text")
	}
}

func TestStats(t *testing.T) {
	s := Stats("سهم فملی رشد")
	if s.Words != 3 {
		t.Errorf("Words = %d, want 3", s.Words)
	}
	if s.Chars != 10 {
		t.Errorf("Chars = %d, want 10", s.Chars)
	}
}

func TestFold(t *testing.T) {
	if Fold("TSLA") != "tsla" {
		t.Fatalf("Fold(TSLA) = %q", Fold("TSLA"))
	}
	if Fold("فولای") != "فولای" {
		t.Fatal("Fold changed caseless script")
	}
}
