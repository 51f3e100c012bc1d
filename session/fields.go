package session

import (
	"encoding/hex"
	"errors"
	"strconv"
)

// Redis hash field names. Short on purpose, these appear once per field
// per session record.
const (
	fieldPrincipal     = "pid"
	fieldMethod        = "mth"
	fieldSecondFactor  = "sf"
	fieldFingerprint   = "fp"
	fieldGeneration    = "gen"
	fieldRefreshHash   = "rh"
	fieldIPHash        = "iph"
	fieldUserAgentHash = "uah"
	fieldCreatedAt     = "cat"
	fieldRotatedAt     = "rat"
	fieldExpiresAt     = "exp"
	fieldRevoked       = "rev"
	fieldRevokeReason  = "revr"
)

var errCorruptRecord = errors.New("corrupt session record")

func sessionToFields(sess *Session) []interface{} {
	return []interface{}{
		fieldPrincipal, sess.PrincipalID,
		fieldMethod, sess.Method,
		fieldSecondFactor, sess.SecondFactor,
		fieldFingerprint, sess.Fingerprint,
		fieldGeneration, int64(sess.Generation),
		fieldRefreshHash, hex.EncodeToString(sess.RefreshHash[:]),
		fieldIPHash, hex.EncodeToString(sess.IPHash[:]),
		fieldUserAgentHash, hex.EncodeToString(sess.UserAgentHash[:]),
		fieldCreatedAt, sess.CreatedAt,
		fieldRotatedAt, sess.RotatedAt,
		fieldExpiresAt, sess.ExpiresAt,
		fieldRevoked, boolToField(sess.Revoked),
		fieldRevokeReason, sess.RevokeReason,
	}
}

func sessionFromFields(sessionID string, fields map[string]string) (*Session, error) {
	gen, err := strconv.ParseInt(fields[fieldGeneration], 10, 64)
	if err != nil || gen < 0 {
		return nil, errCorruptRecord
	}
	created, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, errCorruptRecord
	}
	expires, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, errCorruptRecord
	}

	var rotated int64
	if v := fields[fieldRotatedAt]; v != "" {
		rotated, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errCorruptRecord
		}
	}

	sess := &Session{
		SessionID:    sessionID,
		PrincipalID:  fields[fieldPrincipal],
		Method:       fields[fieldMethod],
		SecondFactor: fields[fieldSecondFactor],
		Fingerprint:  fields[fieldFingerprint],
		Generation:   uint32(gen),
		CreatedAt:    created,
		RotatedAt:    rotated,
		ExpiresAt:    expires,
		Revoked:      fields[fieldRevoked] == "1",
		RevokeReason: fields[fieldRevokeReason],
	}
	if sess.PrincipalID == "" {
		return nil, errCorruptRecord
	}

	if err := decodeHashField(fields[fieldRefreshHash], &sess.RefreshHash); err != nil {
		return nil, err
	}
	if err := decodeHashField(fields[fieldIPHash], &sess.IPHash); err != nil {
		return nil, err
	}
	if err := decodeHashField(fields[fieldUserAgentHash], &sess.UserAgentHash); err != nil {
		return nil, err
	}

	return sess, nil
}

func decodeHashField(v string, out *[32]byte) error {
	if v == "" {
		return nil
	}
	raw, err := hex.DecodeString(v)
	if err != nil || len(raw) != len(out) {
		return errCorruptRecord
	}
	copy(out[:], raw)
	return nil
}

func boolToField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
