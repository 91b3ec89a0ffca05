package codes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQRToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewQRToken()
		require.NoError(t, err)
		assert.True(t, ValidQRToken(tok), tok)
		assert.False(t, seen[tok], "duplicate token")
		seen[tok] = true
	}
}

func TestValidQRToken(t *testing.T) {
	assert.False(t, ValidQRToken(""))
	assert.False(t, ValidQRToken("short"))
	assert.False(t, ValidQRToken("!!!!!!!!!!!!!!!!!!!!!!"))
	assert.False(t, ValidQRToken("MQR-000001-ABC"))
}

func TestPatientNumber(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	n := PatientNumber(42, at)
	assert.Equal(t, "MQR-000042-LOYW3V28", n)
	assert.True(t, IsPatientNumber(n))
	assert.False(t, IsPatientNumber("2b0c4f6e-0000-4000-8000-000000000000"))
	assert.NotEqual(t, n, PatientNumber(43, at))
}
