package glob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"foo", "foo", true},
		{"foo", "foobar", false},
		{"foo", "barfoo", false},
		{"foo", "Foo", false}, // case-sensitive
		{"*", "anything", true},
		{"*", "", true},
		{"bar_*", "bar_x", true},
		{"bar_*", "bar_", true},
		{"bar_*", "bar", false},
		{"bar_*", "baz", false},
		{"*_search", "code_search", true},
		{"*_search", "search", false},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "abd", false},
		{"get*state*", "get_entity_state_v2", true},
		// Regex metacharacters are literal.
		{"foo.bar", "foo.bar", true},
		{"foo.bar", "fooxbar", false},
		{"a+b", "a+b", true},
		{"a+b", "aab", false},
		{"[tool]", "[tool]", true},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.name); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"foo", "bar_*"}

	if !MatchAny(patterns, "foo") {
		t.Error("MatchAny should match exact pattern")
	}
	if !MatchAny(patterns, "bar_x") {
		t.Error("MatchAny should match wildcard pattern")
	}
	if MatchAny(patterns, "baz") {
		t.Error("MatchAny should not match unlisted name")
	}
	if MatchAny(nil, "foo") {
		t.Error("MatchAny with no patterns should not match")
	}
}
