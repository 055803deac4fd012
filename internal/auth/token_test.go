package auth

import (
	"strings"
	"testing"
)

// --- Token generation and validation ---

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.HasPrefix(token, TokenPrefix+"_") {
		t.Errorf("expected token to start with %q, got %q", TokenPrefix+"_", token)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}
	if !ValidateToken(token, hash) {
		t.Error("expected generated token to validate against its hash")
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	a, _, err := GenerateToken()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	b, _, err := GenerateToken()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a == b {
		t.Error("expected two generated tokens to differ")
	}
}

func TestValidateToken_WrongToken(t *testing.T) {
	_, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if ValidateToken("phs_not-the-token", hash) {
		t.Error("expected wrong token to fail validation")
	}
	if ValidateToken("", hash) {
		t.Error("expected empty token to fail validation")
	}
}

func TestValidateToken_MalformedHash(t *testing.T) {
	if ValidateToken("phs_whatever", "not-a-bcrypt-hash") {
		t.Error("expected malformed hash to fail validation")
	}
}

// --- Header extraction ---

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid bearer", "Bearer phs_abc123", "phs_abc123", false},
		{"bearer with spaces", "Bearer   phs_abc123  ", "phs_abc123", false},
		{"empty header", "", "", true},
		{"missing bearer prefix", "phs_abc123", "", true},
		{"basic auth", "Basic dXNlcjpwYXNz", "", true},
		{"bearer only", "Bearer ", "", true},
		{"lowercase bearer", "bearer phs_abc123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for header %q", tt.header)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("expected token %q, got %q", tt.want, got)
			}
		})
	}
}
