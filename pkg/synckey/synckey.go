// Package synckey generates and normalizes the human-shareable codes that
// identify active sessions. Keys look like "XT-7F3K9A": two letters, a dash,
// six characters. The alphabet excludes 0/O, 1/I and L so a key survives
// being read aloud or typed from a phone screen.
package synckey

import (
	"regexp"
	"strings"

	"github.com/synclisten/server/pkg/randstr"
)

const (
	prefixLetters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	bodyLetters   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	prefixLength = 2
	bodyLength   = 6
)

var keyPattern = regexp.MustCompile(`^[A-HJKMNP-Z]{2}-[A-HJKMNP-Z2-9]{6}$`)

type iGenerator interface {
	GenerateRandomString(length int) string
}

type Generator struct {
	prefix iGenerator
	body   iGenerator
}

func NewGenerator() *Generator {
	return &Generator{
		prefix: randstr.New([]byte(prefixLetters)),
		body:   randstr.New([]byte(bodyLetters)),
	}
}

func (g Generator) Generate() string {
	return g.prefix.GenerateRandomString(prefixLength) + "-" + g.body.GenerateRandomString(bodyLength)
}

// Normalize uppercases and trims a user-entered key so lookups are
// case-insensitive.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func Valid(key string) bool {
	return keyPattern.MatchString(key)
}
