package anon

import (
	"crypto/rand"
	"strings"
)

// RecoveryAlphabet is the 58-symbol alphabet of recovery keys. It leaves out
// 0, O, I and l.
const RecoveryAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// RecoveryKeyPrefix starts every recovery key.
const RecoveryKeyPrefix = "PSY"

const (
	recoveryBytes = 16
	recoveryGroup = 4
)

// GenerateRecoveryKey returns a key such as PSY-7Kq2-xM9a-RtP4-c8Wn built
// from 16 random bytes, one symbol per byte.
func GenerateRecoveryKey() (string, error) {
	raw := make([]byte, recoveryBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return formatRecoveryKey(raw), nil
}

func formatRecoveryKey(raw []byte) string {
	var sb strings.Builder
	sb.WriteString(RecoveryKeyPrefix)
	for i, b := range raw {
		if i%recoveryGroup == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(RecoveryAlphabet[int(b)%len(RecoveryAlphabet)])
	}
	return sb.String()
}
