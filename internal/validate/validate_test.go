package validate

import (
	"errors"
	"testing"

	"tokoku/backend/internal/store"
)

func TestSanitizeStripsTagsAndWhitespace(t *testing.T) {
	cases := map[string]string{
		"  Milk 1L  ":                      "Milk 1L",
		"<script>alert(1)</script>Milk":    "alert(1)Milk",
		"<b>Bold</b> name":                 "Bold name",
		"plain":                            "plain",
		"<img src=x onerror=alert(1)>Cafe": "Cafe",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNameLength(t *testing.T) {
	if err := Name("A", 2); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for 1-char name, got %v", err)
	}
	if err := Name("  A  ", 2); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected whitespace padding to be ignored, got %v", err)
	}
	if err := Name("Ok", 2); err != nil {
		t.Fatalf("expected 2-char name to pass, got %v", err)
	}
}

func TestUsernameMinimum(t *testing.T) {
	if err := Username("ab"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for short username, got %v", err)
	}
	if err := Username("abc"); err != nil {
		t.Fatalf("expected 3-char username to pass, got %v", err)
	}
}

func TestPasswordStrength(t *testing.T) {
	if err := Password("12345"); !errors.Is(err, store.ErrWeakCredential) {
		t.Fatalf("expected weak credential for short password, got %v", err)
	}
	if err := Password("123456"); err != nil {
		t.Fatalf("expected 6-char password to pass, got %v", err)
	}
}

func TestEmailShape(t *testing.T) {
	if err := Email(""); err != nil {
		t.Fatalf("expected empty email to pass, got %v", err)
	}
	if err := Email("not-an-email"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for malformed email, got %v", err)
	}
	if err := Email("user@host"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for email without tld, got %v", err)
	}
	if err := Email("user@example.com"); err != nil {
		t.Fatalf("expected valid email to pass, got %v", err)
	}
}

func TestPriceAndQuantity(t *testing.T) {
	if err := PriceCents(0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero price, got %v", err)
	}
	if err := PriceCents(500); err != nil {
		t.Fatalf("expected positive price to pass, got %v", err)
	}
	if err := Quantity(-1); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative quantity, got %v", err)
	}
	if err := Quantity(0); err != nil {
		t.Fatalf("expected zero quantity to pass, got %v", err)
	}
}
