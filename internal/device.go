package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintDevice derives a stable device fingerprint from the canonical
// field ordering platform|os|model|locale|timezone|app. Empty fields still
// occupy a slot so two signals differing only in which fields are set never
// collide.
func FingerprintDevice(platform, osVersion, model, locale, timezone, appVersion string) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(strings.ToLower(platform))
	b.WriteByte('|')
	b.WriteString(osVersion)
	b.WriteByte('|')
	b.WriteString(model)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(locale))
	b.WriteByte('|')
	b.WriteString(timezone)
	b.WriteByte('|')
	b.WriteString(appVersion)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
