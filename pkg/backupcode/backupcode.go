// Package backupcode manages one-time recovery codes issued alongside TOTP
// enrollment. Codes are generated from a crypto-random source, stored only as
// bcrypt hashes, and each code can be consumed exactly once.
package backupcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCount is the number of codes minted per batch.
	DefaultCount = 10
	// CodeLength is the number of random characters per code, excluding the
	// readability dash.
	CodeLength = 10
	// HashCost is the bcrypt cost used for code hashes.
	HashCost = bcrypt.DefaultCost
)

// alphabet excludes 0/O and 1/I/L to keep codes transcribable from paper.
const alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Hash is a stored backup code: a one-way salted hash plus its consumption flag.
type Hash struct {
	Hash     []byte `json:"hash"`
	Consumed bool   `json:"consumed"`
}

// Generate mints n unique plaintext codes formatted in dash-separated groups,
// e.g. "7KQ2M-9XWRT". The plaintext is returned to the caller exactly once and
// must never be persisted or logged.
func Generate(n int) ([]string, error) {
	if n <= 0 {
		return nil, errors.New("backup code count must be positive")
	}

	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := randomCode(CodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, Format(code))
	}
	return codes, nil
}

// HashCodes hashes a batch of plaintext codes with bcrypt. Each hash carries
// its own salt.
func HashCodes(codes []string) ([]Hash, error) {
	hashes := make([]Hash, 0, len(codes))
	for _, code := range codes {
		h, err := bcrypt.GenerateFromPassword([]byte(Canonicalize(code)), HashCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		hashes = append(hashes, Hash{Hash: h})
	}
	return hashes, nil
}

// Verify checks a candidate against every non-consumed hash in the set and
// returns the matching index. Every entry is compared; the loop does not stop
// at the first match, so the work done is independent of where (or whether)
// the candidate matches. Marking the returned index consumed is the caller's
// responsibility and must happen under an atomic conditional update.
func Verify(candidate string, hashes []Hash) (int, bool) {
	canonical := []byte(Canonicalize(candidate))
	matched := -1
	for i := range hashes {
		if hashes[i].Consumed {
			continue
		}
		if bcrypt.CompareHashAndPassword(hashes[i].Hash, canonical) == nil && matched < 0 {
			matched = i
		}
	}
	return matched, matched >= 0
}

// Remaining counts the codes in the set that have not been consumed.
func Remaining(hashes []Hash) int {
	n := 0
	for i := range hashes {
		if !hashes[i].Consumed {
			n++
		}
	}
	return n
}

// Format inserts the readability dash into a raw code.
func Format(code string) string {
	raw := Canonicalize(code)
	if len(raw) <= CodeLength/2 {
		return raw
	}
	return raw[:CodeLength/2] + "-" + raw[CodeLength/2:]
}

// Canonicalize strips formatting and whitespace and upper-cases the code so
// user input matches regardless of how the code was transcribed.
func Canonicalize(code string) string {
	replacer := strings.NewReplacer("-", "", " ", "", "\t", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(code)))
}

func randomCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
