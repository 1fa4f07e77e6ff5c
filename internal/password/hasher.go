package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultCost = 12

// Hasher produces bcrypt hashes. The salt and cost live inside the hash, so
// Verify needs nothing but the stored string.
type Hasher struct {
	cost int
}

func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

func (h *Hasher) Cost() int {
	return h.cost
}

func (h *Hasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("generating password hash: %w", err)
	}
	return string(hash), nil
}

// Verify compares in constant time. A malformed stored hash never matches.
func (h *Hasher) Verify(plaintext, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}
