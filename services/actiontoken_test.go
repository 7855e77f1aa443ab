package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionToken_MintAndVerify(t *testing.T) {
	svc := NewActionTokenService("test-secret", 15*time.Minute)

	token, err := svc.Mint("assignment-1", "job-1", "accept")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := svc.Verify(token, "accept")
	assert.NoError(t, err)
	assert.Equal(t, "assignment-1", claims.AssignmentID)
	assert.Equal(t, "job-1", claims.JobID)
	assert.Equal(t, "accept", claims.Action)
}

func TestActionToken_ActionMismatchRejected(t *testing.T) {
	svc := NewActionTokenService("test-secret", 15*time.Minute)

	// A decline token must not be usable to accept
	token, err := svc.Mint("assignment-1", "job-1", "decline")
	assert.NoError(t, err)

	_, err = svc.Verify(token, "accept")
	assert.Error(t, err)
}

func TestActionToken_WrongSecretRejected(t *testing.T) {
	minter := NewActionTokenService("secret-a", 15*time.Minute)
	verifier := NewActionTokenService("secret-b", 15*time.Minute)

	token, err := minter.Mint("assignment-1", "job-1", "accept")
	assert.NoError(t, err)

	_, err = verifier.Verify(token, "accept")
	assert.Error(t, err)
}

func TestActionToken_GarbageRejected(t *testing.T) {
	svc := NewActionTokenService("test-secret", 15*time.Minute)

	_, err := svc.Verify("not-a-token", "accept")
	assert.Error(t, err)
}
