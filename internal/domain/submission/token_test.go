package submission

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResumeToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		tok := NewResumeToken()
		require.Len(t, tok, resumeTokenBytes*2)
		_, err := hex.DecodeString(tok)
		require.NoError(t, err, "tokens are hex encoded")
		require.False(t, seen[tok], "tokens must not repeat")
		seen[tok] = true
	}
}

func TestVerifyResumeToken(t *testing.T) {
	tok := NewResumeToken()

	assert.True(t, VerifyResumeToken(tok, tok))
	assert.False(t, VerifyResumeToken(tok, NewResumeToken()))
	assert.False(t, VerifyResumeToken(tok, ""))
	assert.False(t, VerifyResumeToken(tok, tok[:len(tok)-1]), "length difference still compares")
	assert.False(t, VerifyResumeToken("", ""), "an unset stored token never verifies")
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	sub := New("sub_1", "intake_1", Actor{Kind: ActorHuman, ID: "user-1"}, now)
	sub.SetField("company", "Initech", sub.CreatedBy)
	deadline := now.Add(time.Hour)
	sub.ExpiresAt = &deadline

	cp := sub.Clone()
	cp.SetField("company", "changed", SystemActor())
	*cp.ExpiresAt = cp.ExpiresAt.Add(time.Hour)

	assert.Equal(t, "Initech", sub.Fields["company"])
	assert.Equal(t, "user-1", sub.FieldAttribution["company"].ID)
	assert.Equal(t, deadline, *sub.ExpiresAt)
}

func TestRedactedBlanksResumeToken(t *testing.T) {
	sub := New("sub_1", "intake_1", SystemActor(), time.Now())
	require.NotEmpty(t, sub.ResumeToken)

	red := sub.Redacted()
	assert.Empty(t, red.ResumeToken)
	assert.NotEmpty(t, sub.ResumeToken, "redaction works on a copy")
	assert.Equal(t, sub.ID, red.ID)
}
