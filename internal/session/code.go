package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"rollcall/internal/apperr"
)

const (
	codeDigits   = 6
	codeAttempts = 10
)

var codeSpace = big.NewInt(1_000_000)

// randomCode returns a uniformly drawn zero-padded 6-digit code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// generateCode draws codes until one is not held by a live session.
func (s *Service) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("draw session code: %w", err)
		}
		inUse, err := s.repo.CodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check session code: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	return "", apperr.Conflict("could not allocate a unique session code, try again")
}
