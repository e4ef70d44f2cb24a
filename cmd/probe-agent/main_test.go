package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "probe-agent") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-frobnicate", "serve"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_BadLogLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-log-level", "loud", "version"})
	if err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestRun_CallRequiresTool(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"call"})
	if err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Errorf("err = %v", err)
	}
}

func TestParseListen(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"", "127.0.0.1", 8765, false},
		{"0.0.0.0:9000", "0.0.0.0", 9000, false},
		{"localhost:0", "localhost", 0, false},
		{"no-port", "", 0, true},
		{"host:notaport", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := parseListen(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseListen(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseListen(%q): %v", tt.in, err)
			continue
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("parseListen(%q) = %s:%d, want %s:%d", tt.in, host, port, tt.wantHost, tt.wantPort)
		}
	}
}
