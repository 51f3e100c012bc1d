package authgate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RFC 4226 recommends a secret at least as long as the HMAC output; 160
// bits covers the SHA-1 default.
const totpSecretBytes = 20

var errTOTPSecretEmpty = errors.New("authgate: empty totp secret")

// totpManager evaluates time-based one-time codes per RFC 6238. It is
// stateless; last-used-counter bookkeeping lives with the principal
// record so replay protection survives restarts.
type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg}
}

// GenerateSecret returns fresh key material and its unpadded base32
// form for authenticator enrollment.
func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	if m == nil {
		return nil, "", ErrEngineNotReady
	}

	key := make([]byte, totpSecretBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key)
	return key, encoded, nil
}

// ProvisionURI renders the otpauth:// enrollment URI authenticator apps
// scan from a QR code.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	params := url.Values{
		"secret":    {secretBase32},
		"issuer":    {m.config.Issuer},
		"algorithm": {strings.ToUpper(m.config.Algorithm)},
		"digits":    {strconv.Itoa(m.config.Digits)},
		"period":    {strconv.Itoa(m.config.Period)},
	}

	var uri strings.Builder
	uri.WriteString("otpauth://totp/")
	uri.WriteString(url.PathEscape(m.config.Issuer + ":" + account))
	uri.WriteByte('?')
	uri.WriteString(params.Encode())
	return uri.String()
}

// VerifyCode checks code against the secret across the configured skew
// window. On a match it returns the matched counter so callers can
// persist it for replay protection.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	candidate := strings.TrimSpace(code)
	if len(candidate) != m.config.Digits || !isNumericString(candidate) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errTOTPSecretEmpty
	}

	center := now.Unix() / int64(m.config.Period)
	for offset := -m.config.Skew; offset <= m.config.Skew; offset++ {
		counter := center + int64(offset)
		if counter < 0 {
			continue
		}
		want, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(candidate)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// hotpCode is RFC 4226 dynamic truncation over HMAC(secret, counter).
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	newHash, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}

	mac := hmac.New(newHash, secret)
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], uint64(counter))
	mac.Write(counterBytes[:])
	digest := mac.Sum(nil)

	offset := digest[len(digest)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7fffffff

	out := strconv.FormatUint(uint64(truncated)%pow10(digits), 10)
	if pad := digits - len(out); pad > 0 {
		out = strings.Repeat("0", pad) + out
	}
	return out, nil
}

func pow10(n int) uint64 {
	p := uint64(1)
	for ; n > 0; n-- {
		p *= 10
	}
	return p
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("authgate: unsupported totp algorithm " + algorithm)
	}
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
