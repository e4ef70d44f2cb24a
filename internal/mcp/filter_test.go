package mcp

import (
	"log/slog"
	"testing"

	"github.com/probelabs/probe-agent/internal/config"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		name   string
		method string
		allow  []string
		block  []string
		want   bool
	}{
		{"no lists", "anything", nil, nil, true},
		{"allow exact", "foo", []string{"foo"}, nil, true},
		{"allow miss", "baz", []string{"foo"}, nil, false},
		{"allow wildcard", "bar_x", []string{"bar_*"}, nil, true},
		{"block exact", "foo", nil, []string{"foo"}, false},
		{"block miss", "baz", nil, []string{"foo"}, true},
		{"block wildcard", "debug_dump", nil, []string{"debug_*"}, false},
		{"allow wins over block", "foo", []string{"foo"}, []string{"foo"}, true},
		{"allow consulted block ignored", "baz", []string{"foo"}, []string{"baz"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.method, tt.allow, tt.block); got != tt.want {
				t.Errorf("Allowed(%q, %v, %v) = %v, want %v",
					tt.method, tt.allow, tt.block, got, tt.want)
			}
		})
	}
}

func TestFilterTools(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "foo"},
		{Name: "bar_x"},
		{Name: "baz"},
	}

	sc := config.ServerConfig{
		Name:           "s",
		AllowedMethods: []string{"foo", "bar_*"},
	}

	kept := FilterTools(sc, defs, slog.New(slog.DiscardHandler))
	if len(kept) != 2 {
		t.Fatalf("kept %d tools, want 2", len(kept))
	}
	if kept[0].Name != "foo" || kept[1].Name != "bar_x" {
		t.Errorf("kept = %v", kept)
	}
}

func TestFilterTools_NoListsKeepsAll(t *testing.T) {
	defs := []ToolDefinition{{Name: "a"}, {Name: "b"}}
	kept := FilterTools(config.ServerConfig{Name: "s"}, defs, slog.New(slog.DiscardHandler))
	if len(kept) != 2 {
		t.Errorf("kept %d tools, want 2", len(kept))
	}
}

func TestFilterTools_BlockList(t *testing.T) {
	defs := []ToolDefinition{{Name: "safe"}, {Name: "debug_dump"}}
	sc := config.ServerConfig{Name: "s", BlockedMethods: []string{"debug_*"}}

	kept := FilterTools(sc, defs, slog.New(slog.DiscardHandler))
	if len(kept) != 1 || kept[0].Name != "safe" {
		t.Errorf("kept = %v, want just safe", kept)
	}
}
