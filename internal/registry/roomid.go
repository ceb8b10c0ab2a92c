package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// IDGenerator produces candidate room ids. Uniqueness among open rooms is
// enforced by the registry, not the generator.
type IDGenerator interface {
	Generate() (string, error)
}

// DigitsGenerator generates fixed-width decimal room codes such as "0427".
type DigitsGenerator struct {
	digits int
	space  *big.Int
}

// NewDigitsGenerator creates a generator for codes of the given width.
func NewDigitsGenerator(digits int) *DigitsGenerator {
	if digits <= 0 {
		digits = 4
	}
	return &DigitsGenerator{
		digits: digits,
		space:  new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil),
	}
}

func (g *DigitsGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, g.space)
	if err != nil {
		return "", fmt.Errorf("failed to generate room id: %w", err)
	}
	return fmt.Sprintf("%0*d", g.digits, n), nil
}
