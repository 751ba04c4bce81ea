package voucher

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidPolicy = errors.New("invalid voucher policy")

type GenerationMode string

const (
	ModeRandom     GenerationMode = "random"
	ModeSequential GenerationMode = "sequential"
)

type PasswordMode string

const (
	PasswordSameAsUsername PasswordMode = "same_as_username"
	PasswordRandom         PasswordMode = "random"
	PasswordCustom         PasswordMode = "custom"
)

const (
	DefaultCharset          = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultLength           = 8
	DefaultSequentialPrefix = "VOUCHER"
	sequenceWidth           = 4
	maxLength               = 64
)

// Policy describes how codes and passwords of a batch are generated.
type Policy struct {
	Mode           GenerationMode `json:"generation_mode"`
	Charset        string         `json:"charset,omitempty"`
	Length         int            `json:"length,omitempty"`
	Prefix         string         `json:"prefix,omitempty"`
	Suffix         string         `json:"suffix,omitempty"`
	PasswordMode   PasswordMode   `json:"password_mode"`
	CustomPassword string         `json:"custom_password,omitempty"`
}

func (p Policy) withDefaults() Policy {
	if p.Mode == "" {
		p.Mode = ModeRandom
	}
	if p.Charset == "" {
		p.Charset = DefaultCharset
	}
	if p.Length <= 0 {
		p.Length = DefaultLength
	}
	if p.Mode == ModeSequential && p.Prefix == "" {
		p.Prefix = DefaultSequentialPrefix
	}
	if p.PasswordMode == "" {
		p.PasswordMode = PasswordSameAsUsername
	}
	return p
}

func (p Policy) validate() error {
	switch p.Mode {
	case ModeRandom, ModeSequential:
	default:
		return fmt.Errorf("%w: unknown generation mode %q", ErrInvalidPolicy, p.Mode)
	}
	switch p.PasswordMode {
	case PasswordSameAsUsername, PasswordRandom, PasswordCustom:
	default:
		return fmt.Errorf("%w: unknown password mode %q", ErrInvalidPolicy, p.PasswordMode)
	}
	if p.Length > maxLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidPolicy, p.Length, maxLength)
	}
	if strings.ContainsAny(p.Prefix+p.Suffix, " \t\r\n=") {
		return fmt.Errorf("%w: prefix and suffix must not contain spaces or '='", ErrInvalidPolicy)
	}
	if strings.ContainsAny(p.Charset, " \t\r\n=") {
		return fmt.Errorf("%w: charset must not contain spaces or '='", ErrInvalidPolicy)
	}
	return nil
}

// GenerateCode composes prefix, body and suffix. In sequential mode the body
// is seq zero-padded to at least four digits; in random mode it is drawn
// uniformly from the charset.
func GenerateCode(p Policy, seq int) (string, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return "", err
	}

	var body string
	switch p.Mode {
	case ModeSequential:
		if seq < 1 {
			return "", fmt.Errorf("%w: sequence starts at 1, got %d", ErrInvalidPolicy, seq)
		}
		body = fmt.Sprintf("%0*d", sequenceWidth, seq)
	default:
		s, err := randomString(p.Charset, p.Length)
		if err != nil {
			return "", err
		}
		body = s
	}
	return p.Prefix + body + p.Suffix, nil
}

// GeneratePassword derives the password for code according to the policy.
// Random passwords are an independent draw with the code's charset and length.
func GeneratePassword(p Policy, code string) (string, error) {
	p = p.withDefaults()
	switch p.PasswordMode {
	case PasswordRandom:
		return randomString(p.Charset, p.Length)
	case PasswordCustom:
		if p.CustomPassword != "" {
			return p.CustomPassword, nil
		}
		return code, nil
	case PasswordSameAsUsername:
		return code, nil
	}
	return "", fmt.Errorf("%w: unknown password mode %q", ErrInvalidPolicy, p.PasswordMode)
}

func randomString(charset string, n int) (string, error) {
	alphabet := []rune(charset)
	limit := big.NewInt(int64(len(alphabet)))

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to draw random code: %w", err)
		}
		b.WriteRune(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
