package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"flowguard/api/internal/project"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewJoinCode returns a random join code drawn from the unambiguous join-code alphabet.
func NewJoinCode() string {
	alphabet := project.JoinCodeAlphabet()
	max := big.NewInt(int64(len(alphabet)))
	code := make([]byte, project.JoinCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			code[i] = alphabet[0]
			continue
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code)
}
