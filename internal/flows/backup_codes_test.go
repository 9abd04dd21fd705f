package flows

import (
	"strings"
	"testing"
)

func TestGenerateBackupCodesBatch(t *testing.T) {
	batch, err := GenerateBackupCodes("acc-1", 10, 10, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Plaintext) != 10 || len(batch.Records) != 10 {
		t.Fatalf("sizes = %d/%d", len(batch.Plaintext), len(batch.Records))
	}
	seen := map[string]bool{}
	for i, code := range batch.Plaintext {
		if !strings.Contains(code, "-") {
			t.Fatalf("code %q not formatted", code)
		}
		canonical := CanonicalizeBackupCode(code)
		if got := BackupCodeHash("acc-1", canonical); got != batch.Records[i].Hash {
			t.Fatalf("hash mismatch for %q", code)
		}
		if !strings.HasSuffix(canonical, batch.Records[i].Hint) || len(batch.Records[i].Hint) != 4 {
			t.Fatalf("hint %q does not match %q", batch.Records[i].Hint, canonical)
		}
		if seen[canonical] {
			t.Fatalf("duplicate code %q", canonical)
		}
		seen[canonical] = true
	}
}

func TestBackupCodeHashIsAccountSalted(t *testing.T) {
	if BackupCodeHash("a", "ABCDEFGH") == BackupCodeHash("b", "ABCDEFGH") {
		t.Fatal("hash must depend on account id")
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	if got := CanonicalizeBackupCode(" abcde-fghjk "); got != "ABCDEFGHJK" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateBackupCodesRejectsBadParams(t *testing.T) {
	if _, err := GenerateBackupCodes("", 10, 10, nil); err == nil {
		t.Fatal("empty account accepted")
	}
	if _, err := GenerateBackupCodes("acc", 10, 4, nil); err == nil {
		t.Fatal("short length accepted")
	}
}
