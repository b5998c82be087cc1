package markdown

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlainText_StripsInlineSyntax(t *testing.T) {
	input := "# Looking for a **CRM**\n\nWe tried [HubSpot](https://hubspot.com) and `pipedrive`.\nBoth were *too* pricey."

	got := PlainText(input)
	want := "Looking for a CRM We tried HubSpot and pipedrive. Both were too pricey."
	if got != want {
		t.Errorf("PlainText:\n got %q\nwant %q", got, want)
	}
}

func TestPlainText_ListsAndCode(t *testing.T) {
	input := "Options:\n\n- first\n- second\n\n```\nfmt.Println(1)\n```\n"

	got := PlainText(input)
	for _, part := range []string{"Options:", "first", "second", "fmt.Println(1)"} {
		if !strings.Contains(got, part) {
			t.Errorf("PlainText(%q) = %q, missing %q", input, got, part)
		}
	}
	if strings.Contains(got, "```") || strings.Contains(got, "- ") {
		t.Errorf("markdown syntax leaked into %q", got)
	}
}

func TestPlainText_DropsHTML(t *testing.T) {
	got := PlainText("before <span>inline</span> after")
	if strings.Contains(got, "<span>") {
		t.Errorf("raw HTML leaked into %q", got)
	}
}

func TestPlainText_Empty(t *testing.T) {
	if got := PlainText(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate kept %q", got)
	}
	got := Truncate("héllo wörld again", 8)
	if utf8.RuneCountInString(got) > 8 {
		t.Errorf("Truncate returned %d runes: %q", utf8.RuneCountInString(got), got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("Truncate missing ellipsis: %q", got)
	}
	if got := Truncate("anything", 0); got != "" {
		t.Errorf("Truncate(0) = %q", got)
	}
}

func TestSnippet(t *testing.T) {
	long := "**" + strings.TrimSpace(strings.Repeat("word ", 200)) + "**"
	got := Snippet(long, 300)
	if utf8.RuneCountInString(got) > 300 {
		t.Errorf("Snippet too long: %d runes", utf8.RuneCountInString(got))
	}
	if strings.Contains(got, "*") {
		t.Errorf("Snippet kept emphasis markers: %q", got[:20])
	}
}
