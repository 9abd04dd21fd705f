package flows

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeHintLen  = 4
)

var errBackupCodeParams = errors.New("invalid backup code parameters")

// BackupCodeRecord is the persisted form of one generated code.
type BackupCodeRecord struct {
	Hash string
	Hint string
}

// BackupCodeBatch is a freshly generated batch. Plaintext is returned to the
// account holder once and never stored.
type BackupCodeBatch struct {
	Plaintext []string
	Records   []BackupCodeRecord
}

// GenerateBackupCodes creates count codes of length characters each, salted
// with accountID. A nil randomIndex uses crypto/rand.
func GenerateBackupCodes(accountID string, count, length int, randomIndex func(int) (int, error)) (*BackupCodeBatch, error) {
	if accountID == "" || count <= 0 || length < 8 {
		return nil, errBackupCodeParams
	}

	batch := &BackupCodeBatch{
		Plaintext: make([]string, 0, count),
		Records:   make([]BackupCodeRecord, 0, count),
	}
	seen := make(map[string]struct{}, count)
	for len(batch.Records) < count {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		batch.Plaintext = append(batch.Plaintext, FormatBackupCode(raw))
		batch.Records = append(batch.Records, BackupCodeRecord{
			Hash: BackupCodeHash(accountID, raw),
			Hint: raw[len(raw)-backupCodeHintLen:],
		})
	}
	return batch, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode strips separators and case from user input.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash hashes a canonical code with the account id as salt.
func BackupCodeHash(accountID, canonicalCode string) string {
	data := make([]byte, 0, len(accountID)+1+len(canonicalCode))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
