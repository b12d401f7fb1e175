package redact

import (
	"strings"
	"testing"
)

func TestRedactEntityClasses(t *testing.T) {
	engine := NewEngine(nil)

	tests := []struct {
		name        string
		input       string
		wantText    string
		wantFlags   []string
		absentFlags []string
	}{
		{
			name:      "email",
			input:     "Contact me at john@company.com for details",
			wantText:  "Contact me at [EMAIL_REDACTED] for details",
			wantFlags: []string{FlagEmail},
		},
		{
			name:      "phone dashed",
			input:     "Call 555-123-4567 tomorrow",
			wantText:  "Call [PHONE_REDACTED] tomorrow",
			wantFlags: []string{FlagPhone},
		},
		{
			name:      "phone parenthesized",
			input:     "Reach us at (555) 123-4567",
			wantText:  "Reach us at [PHONE_REDACTED]",
			wantFlags: []string{FlagPhone},
		},
		{
			name:      "ssn",
			input:     "My SSN is 123-45-6789 please help",
			wantText:  "My SSN is [SSN_REDACTED] please help",
			wantFlags: []string{FlagSSN},
		},
		{
			name:        "credit card not phone",
			input:       "Card 4111-1111-1111-1111 was charged twice",
			wantText:    "Card [CARD_REDACTED] was charged twice",
			wantFlags:   []string{FlagCreditCard},
			absentFlags: []string{FlagPhone},
		},
		{
			name:      "card spaces",
			input:     "4111 1111 1111 1111",
			wantText:  "[CARD_REDACTED]",
			wantFlags: []string{FlagCreditCard},
		},
		{
			name:      "mixed entities",
			input:     "Email jane.doe@example.org or call 555-867-5309",
			wantText:  "Email [EMAIL_REDACTED] or call [PHONE_REDACTED]",
			wantFlags: []string{FlagEmail, FlagPhone},
		},
		{
			name:     "clean text",
			input:    "The printer on floor 3 is jammed",
			wantText: "The printer on floor 3 is jammed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, flags := engine.Redact(tc.input)
			if got != tc.wantText {
				t.Fatalf("expected %q got %q", tc.wantText, got)
			}
			for _, want := range tc.wantFlags {
				if !contains(flags, want) {
					t.Fatalf("expected flag %s in %v", want, flags)
				}
			}
			for _, absent := range tc.absentFlags {
				if contains(flags, absent) {
					t.Fatalf("unexpected flag %s in %v", absent, flags)
				}
			}
			if len(tc.wantFlags) == 0 && len(flags) != 0 {
				t.Fatalf("expected no flags got %v", flags)
			}
		})
	}
}

func TestRedactReplacesEveryOccurrence(t *testing.T) {
	engine := NewEngine(nil)
	input := "a@b.com then c@d.org then e@f.net"
	got, flags := engine.Redact(input)
	if strings.Contains(got, "@") {
		t.Fatalf("address survived redaction: %q", got)
	}
	if count := strings.Count(got, "[EMAIL_REDACTED]"); count != 3 {
		t.Fatalf("expected 3 placeholders got %d", count)
	}
	if len(flags) != 1 || flags[0] != FlagEmail {
		t.Fatalf("expected single email flag got %v", flags)
	}
}

func TestRedactIdempotent(t *testing.T) {
	engine := NewEngine(nil)
	input := "ssn 123-45-6789 email a@b.com phone 555-123-4567 card 4111111111111111"

	once, onceFlags := engine.Redact(input)
	twice, twiceFlags := engine.Redact(once)

	if twice != once {
		t.Fatalf("second pass changed text:\n%q\n%q", once, twice)
	}
	if len(twiceFlags) != 0 {
		t.Fatalf("second pass raised flags: %v", twiceFlags)
	}
	if len(onceFlags) != 4 {
		t.Fatalf("expected 4 flags got %v", onceFlags)
	}
}

func TestIsExternalDomain(t *testing.T) {
	engine := NewEngine(nil)

	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"internal", "john@company.com", false},
		{"internal sub", "ops@corp.company.com", false},
		{"internal nested sub", "dev@team.internal.company.com", false},
		{"external", "someone@gmail.com", true},
		{"external lookalike", "x@notcompany.com", true},
		{"external suffix trick", "x@company.com.evil.net", true},
		{"malformed no at", "not-an-email", false},
		{"malformed trailing at", "broken@", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := engine.IsExternalDomain(tc.email); got != tc.want {
				t.Fatalf("IsExternalDomain(%q) = %v, want %v", tc.email, got, tc.want)
			}
		})
	}
}

func TestIsExternalDomainCustomAllowList(t *testing.T) {
	engine := NewEngine([]string{"Example.ORG "})
	if engine.IsExternalDomain("a@example.org") {
		t.Fatal("allow-listed domain flagged external")
	}
	if !engine.IsExternalDomain("a@company.com") {
		t.Fatal("default domain should not apply with custom list")
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
