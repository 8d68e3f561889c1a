package passphrase

import (
	"errors"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "hunter2")
	src := NewSource("VAULT_TEST_PASSPHRASE", "custody")
	src.prompt = func() (string, error) {
		t.Fatalf("prompt should not be used when the variable is set")
		return "", nil
	}
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("unexpected result: %q, %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "  ")
	if _, err := NewSource("VAULT_TEST_PASSPHRASE", "custody").Get(); err == nil {
		t.Fatalf("expected empty passphrase to be rejected")
	}
}

func TestSourceCachesPrompt(t *testing.T) {
	calls := 0
	src := NewSource("", "custody")
	src.prompt = func() (string, error) {
		calls++
		return "secret", nil
	}
	for i := 0; i < 3; i++ {
		if got, err := src.Get(); err != nil || got != "secret" {
			t.Fatalf("unexpected result: %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestSourceReportsPromptFailure(t *testing.T) {
	src := NewSource("", "")
	src.prompt = func() (string, error) { return "", errors.New("no tty") }
	if _, err := src.Get(); err == nil || err.Error() != "no tty" {
		t.Fatalf("unexpected error: %v", err)
	}
	src = NewSource("", "")
	src.prompt = func() (string, error) { return " ", nil }
	if _, err := src.Get(); err == nil || err.Error() != "keystore passphrase cannot be empty" {
		t.Fatalf("unexpected error: %v", err)
	}
}
