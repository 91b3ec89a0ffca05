// Package codes generates the two external identifiers a patient carries:
// the human-readable patient number and the opaque QR token.
package codes

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QRTokenBytes is the entropy of a QR token.
const QRTokenBytes = 16

// PatientNumberPrefix starts every patient number.
const PatientNumberPrefix = "MQR"

// NewQRToken returns a URL-safe random token of QRTokenBytes bytes.
func NewQRToken() (string, error) {
	b := make([]byte, QRTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate qr token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidQRToken reports whether s has the shape NewQRToken produces, so
// malformed codes never reach the store.
func ValidQRToken(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(QRTokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

// PatientNumber formats a sequence value with a base-36 timestamp suffix,
// e.g. MQR-000042-LZ3K9Q. The sequence keeps numbers unique; the suffix
// keeps them unique across a sequence reset.
func PatientNumber(seq int64, at time.Time) string {
	return fmt.Sprintf("%s-%06d-%s", PatientNumberPrefix, seq,
		strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36)))
}

// IsPatientNumber reports whether s looks like a patient number rather
// than a UUID or a QR token.
func IsPatientNumber(s string) bool {
	return strings.HasPrefix(s, PatientNumberPrefix+"-") && strings.Count(s, "-") == 2
}
