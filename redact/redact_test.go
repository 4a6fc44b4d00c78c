package redact

import (
	"strings"
	"testing"
)

// highEntropySecret is a string with Shannon entropy > 4.5 that will trigger redaction.
const highEntropySecret = "sk-ant-REDACTED"

func TestString_NoSecrets(t *testing.T) {
	input := "hello world, this is normal text"
	if got := String(input); got != input {
		t.Errorf("expected unchanged input, got %q", got)
	}
}

func TestString_WithSecret(t *testing.T) {
	got := String("my key is " + highEntropySecret + " ok")
	want := "my key is REDACTED ok"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestString_MultipleSecrets(t *testing.T) {
	got := String(highEntropySecret + " and " + highEntropySecret)
	want := "REDACTED and REDACTED"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestString_CommitHashNotRedacted(t *testing.T) {
	// Hex strings stay below the entropy threshold.
	hash := "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"
	if got := String("commit " + hash); got != "commit "+hash {
		t.Errorf("commit hash was redacted: %q", got)
	}
}

func TestPatch_PreservesStructure(t *testing.T) {
	patch := strings.Join([]string{
		"diff --git a/config.env b/config.env",
		"index 0000000..1111111 100644",
		"--- a/config.env",
		"+++ b/config.env",
		"@@ -1,2 +1,2 @@",
		" DB_HOST=localhost",
		"+API_KEY=" + highEntropySecret,
		"",
	}, "\n")

	got := Patch(patch)

	if !strings.Contains(got, "diff --git a/config.env b/config.env") {
		t.Error("file header was altered")
	}
	if !strings.Contains(got, "@@ -1,2 +1,2 @@") {
		t.Error("hunk marker was altered")
	}
	if strings.Contains(got, highEntropySecret) {
		t.Error("secret survived redaction")
	}
	if !strings.Contains(got, "+API_KEY=REDACTED") {
		t.Errorf("expected redacted content line, got:\n%s", got)
	}
}

func TestPatch_CleanPatchUnchanged(t *testing.T) {
	patch := "diff --git a/a.go b/a.go\n+package main\n"
	if got := Patch(patch); got != patch {
		t.Errorf("clean patch modified: %q", got)
	}
}

func TestPatch_Empty(t *testing.T) {
	if got := Patch(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestShannonEntropy(t *testing.T) {
	if e := shannonEntropy(""); e != 0 {
		t.Errorf("empty string entropy = %f, want 0", e)
	}
	if e := shannonEntropy("aaaaaaaaaa"); e != 0 {
		t.Errorf("uniform string entropy = %f, want 0", e)
	}
	if e := shannonEntropy(highEntropySecret); e <= entropyThreshold {
		t.Errorf("secret entropy = %f, want > %f", e, entropyThreshold)
	}
}
