package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Code parameters. These match what authenticator apps assume when the
// provisioning URI carries algorithm=SHA1&digits=6&period=30.
const (
	// SecretBytes is the raw secret length: 160 bits, the RFC 4226 recommended minimum.
	SecretBytes = 20
	// DefaultDigits is the number of digits in a generated code.
	DefaultDigits = 6
	// DefaultPeriod is the time-step size in seconds.
	DefaultPeriod = 30
	// DefaultSkew is the drift tolerance in time steps on each side of now.
	DefaultSkew = 1
)

// ErrMalformedCode is returned when a candidate code has the wrong length or
// contains non-digit characters. It is rejected before any HMAC work.
var ErrMalformedCode = errors.New("malformed code")

// Key is a freshly generated TOTP secret with its provisioning URI.
type Key struct {
	// Secret is the base32-encoded secret (RFC 4648, no padding).
	Secret string
	// URI is the otpauth:// key URI consumed by authenticator apps.
	URI string
}

// GenerateSecret creates a new random TOTP secret for the given issuer and
// account label. The secret comes from crypto/rand; an error here means the
// process cannot safely continue issuing secrets.
func GenerateSecret(issuer, accountLabel string) (Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountLabel,
		SecretSize:  SecretBytes,
		Period:      DefaultPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Key{}, fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return Key{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// GenerateCode computes the code for the given base32 secret at time t.
// The result is always exactly DefaultDigits digits, zero-padded.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	counter := t.Unix() / DefaultPeriod
	return hotpCode(key, counter), nil
}

// Verify checks a candidate code against the secret at time t, allowing
// DefaultSkew steps of clock drift on either side. Candidates that are not
// exactly DefaultDigits ASCII digits fail with ErrMalformedCode before any
// cryptographic work.
//
// All counters in the window are evaluated and compared in constant time; the
// loop never exits early on a match. A match whose counter is not strictly
// greater than lastUsedCounter is discarded, which makes an accepted code
// unacceptable a second time. On success the caller must persist the returned
// counter as the new last-used counter.
func Verify(secret, candidate string, t time.Time, lastUsedCounter int64) (bool, int64, error) {
	trimmed := strings.TrimSpace(candidate)
	if len(trimmed) != DefaultDigits || !isDigits(trimmed) {
		return false, 0, ErrMalformedCode
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return false, 0, err
	}

	base := t.Unix() / DefaultPeriod
	ok := 0
	var used int64
	for counter := base - DefaultSkew; counter <= base+DefaultSkew; counter++ {
		if counter < 0 {
			continue
		}
		generated := hotpCode(key, counter)
		eq := subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed))
		if counter <= lastUsedCounter {
			// Replay: the counter was already consumed, the match does not count.
			eq = 0
		}
		// Branch-free 64-bit select; first is 0 or 1, so the mask is all
		// zeros or all ones. subtle.ConstantTimeSelect would narrow the
		// counter through int on 32-bit platforms.
		first := eq &^ ok
		mask := -int64(first)
		used = (counter & mask) | (used &^ mask)
		ok |= eq
	}

	if ok != 1 {
		return false, 0, nil
	}
	return true, used, nil
}

// hotpCode implements the RFC 4226 HMAC-based code for a single counter value.
func hotpCode(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: 4 bytes starting at the offset named by the low
	// nibble of the last byte, top bit masked off.
	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < DefaultDigits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", DefaultDigits, bin%mod)
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid base32 secret: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("empty totp secret")
	}
	return key, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
