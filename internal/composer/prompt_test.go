package composer

import (
	"strings"
	"testing"
)

func TestContextBlock_JoinsRetrievedThenSearch(t *testing.T) {
	c := New(Catalog("en"), 0)

	got := c.ContextBlock([]string{"alpha", "beta"}, "[web search results]\n1. t: c...\n")
	want := "alpha\nbeta\n[web search results]\n1. t: c...\n"
	if got != want {
		t.Errorf("ContextBlock = %q, want %q", got, want)
	}
}

func TestContextBlock_EmptySearchKeepsTrailingSlot(t *testing.T) {
	c := New(Catalog("en"), 0)
	if got := c.ContextBlock([]string{"alpha"}, ""); got != "alpha\n" {
		t.Errorf("ContextBlock = %q, want %q", got, "alpha\n")
	}
	if got := c.ContextBlock(nil, ""); got != "" {
		t.Errorf("ContextBlock(nil, \"\") = %q, want empty", got)
	}
}

func TestContextBlock_DropsFarthestOverBudget(t *testing.T) {
	c := New(Catalog("en"), 10)
	near := strings.Repeat("a", 20) // 5 tokens
	far := strings.Repeat("b", 40)  // 10 tokens

	got := c.ContextBlock([]string{near, far}, "")
	if strings.Contains(got, "b") {
		t.Errorf("farthest text kept over budget: %q", got)
	}
	if !strings.Contains(got, near) {
		t.Errorf("nearest text dropped: %q", got)
	}
}

func TestContextBlock_CJKCountedByRunes(t *testing.T) {
	c := New(Catalog("zh"), 10)
	// 40 runes, 120 bytes: within budget only when counted by runes.
	text := strings.Repeat("上下文测试", 8)

	if got := c.ContextBlock([]string{text}, ""); got != text+"\n" {
		t.Errorf("CJK entry dropped under a rune budget: %q", got)
	}
}

func TestCompose_English(t *testing.T) {
	c := New(Catalog("en"), 0)
	got := c.Compose("alpha\n", "What is Go?")

	for _, part := range []string{
		"Answer based on the context below",
		"[Related context]\nalpha\n\n\n[User question] What is Go?\n",
		"[Answer requirements] Use markdown",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("prompt missing %q:\n%s", part, got)
		}
	}
}

func TestCompose_ChineseMatchesOriginalTemplate(t *testing.T) {
	c := New(Catalog("zh-CN"), 0)
	got := c.Compose("上下文", "你好")
	want := "请基于以下上下文用中文回答，保持自然对话风格：\n【相关上下文】\n上下文\n\n【用户问题】你好\n【回答要求】用markdown格式，包含必要的信息来源说明"
	if got != want {
		t.Errorf("Compose =\n%q\nwant\n%q", got, want)
	}
}

func TestCatalog(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"en", "en"},
		{"EN_us", "en"},
		{"zh", "zh"},
		{"zh_TW", "zh"},
		{"fr", "en"},
		{"", "en"},
	}
	for _, tt := range tests {
		if got := Catalog(tt.locale).Locale; got != tt.want {
			t.Errorf("Catalog(%q).Locale = %q, want %q", tt.locale, got, tt.want)
		}
	}
}

func TestCatalog_AllFieldsSet(t *testing.T) {
	for _, loc := range Locales() {
		m := Catalog(loc)
		for name, v := range map[string]string{
			"Instruction":            m.Instruction,
			"ContextHeader":          m.ContextHeader,
			"QuestionHeader":         m.QuestionHeader,
			"Requirements":           m.Requirements,
			"FileContentPrefix":      m.FileContentPrefix,
			"UnsupportedFileType":    m.UnsupportedFileType,
			"ExtractionError":        m.ExtractionError,
			"SearchHeader":           m.SearchHeader,
			"SearchNoTitle":          m.SearchNoTitle,
			"SearchUnavailableTitle": m.SearchUnavailableTitle,
			"ConnectivityFailure":    m.ConnectivityFailure,
			"TimeoutFailure":         m.TimeoutFailure,
			"GenerationFailure":      m.GenerationFailure,
			"NewConversationTitle":   m.NewConversationTitle,
		} {
			if v == "" {
				t.Errorf("%s: %s is empty", loc, name)
			}
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"你好世界", 1},
		{"请基于以下上下文", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
