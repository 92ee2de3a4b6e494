package match

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/quicktap/arena/internal/domain"
)

const (
	minCode = 100000
	maxCode = 999999

	defaultCodeAttempts = 64
)

var codeSpan = big.NewInt(maxCode - minCode + 1)

// CodeGenerator draws six digit room codes from a random source
type CodeGenerator struct {
	random   io.Reader
	attempts int
}

// NewCodeGenerator returns a generator backed by crypto/rand
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{random: rand.Reader, attempts: defaultCodeAttempts}
}

// NewCodeGeneratorWithSource uses random instead of crypto/rand and gives up after attempts draws
func NewCodeGeneratorWithSource(random io.Reader, attempts int) *CodeGenerator {
	if attempts <= 0 {
		attempts = defaultCodeAttempts
	}
	return &CodeGenerator{random: random, attempts: attempts}
}

// Generate returns a code for which taken reports false
func (g *CodeGenerator) Generate(taken func(code string) bool) (string, error) {
	for i := 0; i < g.attempts; i++ {
		n, err := rand.Int(g.random, codeSpan)
		if err != nil {
			return "", fmt.Errorf("drawing room code: %w", err)
		}
		code := strconv.FormatInt(n.Int64()+minCode, 10)
		if !taken(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", domain.ErrCodeSpaceExhausted, g.attempts)
}
