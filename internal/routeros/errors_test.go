package routeros

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	trap := &routeros.DeviceError{Sentence: &proto.Sentence{
		Word: "!trap",
		Map:  map[string]string{"message": "failure: already have user with this name"},
	}}
	missing := &routeros.DeviceError{Sentence: &proto.Sentence{
		Word: "!trap",
		Map:  map[string]string{"message": "no such item"},
	}}

	tests := []struct {
		name      string
		err       error
		target    error
		notTarget error
		retryable bool
	}{
		{name: "trap", err: trap, target: ErrRejected, notTarget: ErrNotFound},
		{name: "missing item", err: missing, target: ErrNotFound},
		{name: "deadline", err: context.DeadlineExceeded, target: ErrTimeout, retryable: true},
		{name: "io", err: io.EOF, target: ErrConnection, retryable: true},
		{name: "wrapped io", err: fmt.Errorf("read: %w", io.ErrUnexpectedEOF), target: ErrConnection, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("/ip/hotspot/user/add", tt.err)
			assert.ErrorIs(t, err, tt.target)
			if tt.notTarget != nil {
				assert.False(t, errors.Is(err, tt.notTarget))
			}
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}

	assert.NoError(t, classify("/ppp/secret/print", nil))
}

func TestRejectionError(t *testing.T) {
	err := NewRejection("/ppp/secret/remove", "no such item")
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "/ppp/secret/remove")
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrConfiguration))
	assert.True(t, IsRetryable(ErrClosed))
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrTimeout)))
}
