package password

import (
	"errors"
	"strings"
	"testing"
)

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"ok", "correct horse battery", nil},
		{"ok mixed", "S3curely-Typed!", nil},
		{"too short", "abc1234", ErrPasswordTooShort},
		{"too long", strings.Repeat("a1", 65), ErrPasswordTooLong},
		{"all same char", "aaaaaaaa", ErrWeakPassword},
		{"short digits only", "12345678901", ErrWeakPassword},
		{"long digits ok", "123456789012", nil},
		{"common word", "password123", ErrWeakPassword},
		{"qwerty variant", "Qwerty123", ErrWeakPassword},
		{"unicode counted as runes", "pässwörd", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := p.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate(%q)=%v want=%v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestPolicyValidate_WeaknessCheckDisabled(t *testing.T) {
	t.Parallel()

	p := Policy{MinLength: 8, MaxLength: 128, RejectVeryWeak: false}
	if err := p.Validate("11111111"); err != nil {
		t.Fatalf("Validate with weakness check off: %v", err)
	}
}
