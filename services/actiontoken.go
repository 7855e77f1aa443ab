package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActionTokenService mints and verifies the signed tokens embedded in offer
// accept/decline actions. The token carries everything the response handler
// needs, so no continuation state is held between sending an offer and the
// cleaner answering it; the persisted Assignment row is the only state.
type ActionTokenService struct {
	secret []byte
	ttl    time.Duration
}

// ActionClaims binds one token to one assignment and one action.
type ActionClaims struct {
	AssignmentID string `json:"assignment_id"`
	JobID        string `json:"job_id"`
	Action       string `json:"action"` // accept, decline
	jwt.RegisteredClaims
}

func NewActionTokenService(secret string, ttl time.Duration) *ActionTokenService {
	return &ActionTokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Mint creates a signed HS256 token for one assignment action. The expiry
// is padded past the offer timeout so a cleaner tapping right at the
// deadline still produces a parseable (if ultimately no-op) response.
func (s *ActionTokenService) Mint(assignmentID, jobID, action string) (string, error) {
	now := time.Now()
	claims := ActionClaims{
		AssignmentID: assignmentID,
		JobID:        jobID,
		Action:       action,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl + time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign action token: %w", err)
	}

	return signed, nil
}

// Verify parses and validates a token, returning its claims. A token whose
// action does not match the claimed action is rejected, so a decline token
// cannot be replayed as an accept.
func (s *ActionTokenService) Verify(tokenString, expectedAction string) (*ActionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ActionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid action token claims")
	}

	if claims.Action != expectedAction {
		return nil, fmt.Errorf("token action %q does not match request action %q", claims.Action, expectedAction)
	}

	return claims, nil
}
