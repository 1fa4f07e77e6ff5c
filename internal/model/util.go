package model

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
)

// NewTokenID returns a short random id, used as the jti of issued tokens.
func NewTokenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating token id: %w", err)
	}
	return base58.Encode(id[:]), nil
}
