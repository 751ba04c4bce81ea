package voucher

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeSequential(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		seq    int
		want   string
	}{
		{"default prefix", Policy{Mode: ModeSequential}, 1, "VOUCHER0001"},
		{"custom prefix and suffix", Policy{Mode: ModeSequential, Prefix: "TST", Suffix: "X"}, 42, "TST0042X"},
		{"wider than four digits", Policy{Mode: ModeSequential, Prefix: "A"}, 12345, "A12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateCode(tt.policy, tt.seq)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateCodeSequentialStrictlyIncreasing(t *testing.T) {
	p := Policy{Mode: ModeSequential, Prefix: "HS"}
	prev := 0
	for seq := 1; seq <= 50; seq++ {
		code, err := GenerateCode(p, seq)
		require.NoError(t, err)
		n, err := strconv.Atoi(strings.TrimPrefix(code, "HS"))
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestGenerateCodeRandom(t *testing.T) {
	p := Policy{Mode: ModeRandom, Prefix: "TST", Charset: "ABC123", Length: 6}
	code, err := GenerateCode(p, 0)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(code, "TST"))
	body := strings.TrimPrefix(code, "TST")
	assert.Len(t, body, 6)
	for _, r := range body {
		assert.Contains(t, "ABC123", string(r))
	}
}

func TestGenerateCodeRandomDefaults(t *testing.T) {
	code, err := GenerateCode(Policy{}, 0)
	require.NoError(t, err)
	assert.Len(t, code, DefaultLength)
	for _, r := range code {
		assert.Contains(t, DefaultCharset, string(r))
	}
}

func TestGenerateCodeRejectsInvalidPolicy(t *testing.T) {
	_, err := GenerateCode(Policy{Mode: "nope"}, 1)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = GenerateCode(Policy{Prefix: "a b"}, 1)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = GenerateCode(Policy{Mode: ModeSequential}, 0)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(Policy{}, "CODE1234")
	require.NoError(t, err)
	assert.Equal(t, "CODE1234", pw)

	pw, err = GeneratePassword(Policy{PasswordMode: PasswordCustom, CustomPassword: "s3cret"}, "CODE1234")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	pw, err = GeneratePassword(Policy{PasswordMode: PasswordCustom}, "CODE1234")
	require.NoError(t, err)
	assert.Equal(t, "CODE1234", pw, "custom without a value falls back to the username")

	pw, err = GeneratePassword(Policy{PasswordMode: PasswordRandom, Prefix: "P", Charset: "xyz", Length: 5}, "PXXXXX")
	require.NoError(t, err)
	assert.Len(t, pw, 5)
	assert.NotContains(t, pw, "P")
}
