package password

import (
	"fmt"
	"unicode"

	"uk.co.dudmesh.sentinel/internal/model"
)

// MaxLength is the longest input bcrypt looks at.
const MaxLength = 72

type Policy struct {
	MinLength    int
	RequireUpper bool
	RequireLower bool
	RequireDigit bool
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate returns an error wrapping model.ErrorWeakPassword naming the first rule broken.
func (p Policy) Validate(password string) error {
	if len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", model.ErrorWeakPassword, p.MinLength)
	}
	if len(password) > MaxLength {
		return fmt.Errorf("%w: must be at most %d bytes", model.ErrorWeakPassword, MaxLength)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	switch {
	case p.RequireUpper && !hasUpper:
		return fmt.Errorf("%w: must contain an uppercase letter", model.ErrorWeakPassword)
	case p.RequireLower && !hasLower:
		return fmt.Errorf("%w: must contain a lowercase letter", model.ErrorWeakPassword)
	case p.RequireDigit && !hasDigit:
		return fmt.Errorf("%w: must contain a digit", model.ErrorWeakPassword)
	}
	return nil
}
