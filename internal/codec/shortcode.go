package codec

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	shortCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	shortCodeGroup  = 4
	ShortCodeLength = 2*shortCodeGroup + 1 // XXXX-XXXX
	MaxCodeAttempts = 10
)

var ErrCodeGenerationExhausted = errors.New("short code generation exhausted")

// CodeTakenFunc reports whether a short code is already in use within the
// caller's organization.
type CodeTakenFunc func(ctx context.Context, code string) (bool, error)

// GenerateShortCode draws random codes until one is free, giving up after
// MaxCodeAttempts collisions.
func GenerateShortCode(ctx context.Context, taken CodeTakenFunc) (string, error) {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := randomShortCode()
		if err != nil {
			return "", fmt.Errorf("generate short code: %w", err)
		}

		exists, err := taken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check short code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}

// NormalizeShortCode upper-cases user input, drops spaces and hyphens and
// restores the canonical XXXX-XXXX form when the length fits.
func NormalizeShortCode(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(raw)))

	if len(cleaned) != 2*shortCodeGroup {
		return cleaned
	}
	return cleaned[:shortCodeGroup] + "-" + cleaned[shortCodeGroup:]
}

// IsValidShortCode reports whether code is in canonical form over the
// restricted alphabet.
func IsValidShortCode(code string) bool {
	if len(code) != ShortCodeLength || code[shortCodeGroup] != '-' {
		return false
	}
	for i, c := range code {
		if i == shortCodeGroup {
			continue
		}
		if !strings.ContainsRune(shortCodeChars, c) {
			return false
		}
	}
	return true
}

func randomShortCode() (string, error) {
	chars := []byte(shortCodeChars)
	max := big.NewInt(int64(len(chars)))
	part1 := make([]byte, shortCodeGroup)
	part2 := make([]byte, shortCodeGroup)

	for i := 0; i < shortCodeGroup; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		part1[i] = chars[n.Int64()]
	}
	for i := 0; i < shortCodeGroup; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		part2[i] = chars[n.Int64()]
	}

	return fmt.Sprintf("%s-%s", string(part1), string(part2)), nil
}
