package submission

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// resumeTokenBytes is the entropy of a resume token before hex encoding.
const resumeTokenBytes = 32

// NewResumeToken generates an opaque resume token. Tokens are secrets: they
// are returned to the creating actor and otherwise never logged in clear.
func NewResumeToken() string {
	b := make([]byte, resumeTokenBytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// VerifyResumeToken compares a supplied token against the stored one in time
// independent of where the first differing byte sits. Both values are hashed
// first so tokens of different lengths take the same comparison path.
func VerifyResumeToken(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	storedSum := sha256.Sum256([]byte(stored))
	suppliedSum := sha256.Sum256([]byte(supplied))
	return subtle.ConstantTimeCompare(storedSum[:], suppliedSum[:]) == 1
}
