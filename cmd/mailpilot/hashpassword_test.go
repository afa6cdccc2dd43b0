package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/znz-systems/mailpilot/internal/auth"
)

func TestHashPassword_FromStdin(t *testing.T) {
	var out bytes.Buffer
	if err := hashPassword(nil, strings.NewReader("s3cret\n"), &out); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	hash := strings.TrimSpace(out.String())
	if err := auth.CheckPassword(hash, "s3cret"); err != nil {
		t.Errorf("expected printed hash to verify, got %q", hash)
	}
	admin := auth.NewAdmin("owner", hash)
	if !admin.Verify("owner", "s3cret") {
		t.Error("expected admin to accept the hashed password")
	}
}

func TestHashPassword_FromArgument(t *testing.T) {
	var out bytes.Buffer
	if err := hashPassword([]string{"hunter2"}, strings.NewReader(""), &out); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := auth.CheckPassword(strings.TrimSpace(out.String()), "hunter2"); err != nil {
		t.Error("expected printed hash to verify")
	}
}

func TestHashPassword_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		in   string
	}{
		{"empty stdin", nil, ""},
		{"blank line", nil, "\n"},
		{"too many args", []string{"a", "b"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := hashPassword(tt.args, strings.NewReader(tt.in), &out); err == nil {
				t.Errorf("expected error, got hash %q", out.String())
			}
		})
	}
}
