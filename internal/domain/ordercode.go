package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// orderCodeAlphabet excludes 0, 1, I and O to keep codes unambiguous when
// read aloud or handwritten on a delivery slip.
const orderCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// orderCodeSuffixLength is the number of random characters after the prefix.
const orderCodeSuffixLength = 5

// NewOrderCode generates a human-readable order code of the form
// "<prefix>-XXXXX". Codes are random, not sequential; callers must handle the
// (rare) collision by regenerating.
func NewOrderCode(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("domain: order code prefix is required")
	}

	buf := make([]byte, orderCodeSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("domain: generate order code: %w", err)
	}
	for i, b := range buf {
		buf[i] = orderCodeAlphabet[int(b)%len(orderCodeAlphabet)]
	}
	return prefix + "-" + string(buf), nil
}
