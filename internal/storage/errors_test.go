package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	native := &Error{Code: CodeNoSuchKey, Message: "missing"}

	assert.Equal(t, CodeNoSuchKey, ErrorCode(native))
	assert.Equal(t, CodeNoSuchKey, ErrorCode(fmt.Errorf("wrapped: %w", native)))
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.Empty(t, ErrorCode(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&Error{Code: CodeNoSuchKey}))
	assert.True(t, IsNotFound(&Error{Code: CodeNotFound}))
	assert.False(t, IsNotFound(&Error{Code: CodeRequestTimeout}))
	assert.False(t, IsNotFound(errors.New("not found")))
}

func TestError_Message(t *testing.T) {
	inner := errors.New("disk")
	err := &Error{Code: CodeNotFound, Message: "no such file", Err: inner}

	assert.Equal(t, "ENOENT: no such file: disk", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "NoSuchKey: gone", (&Error{Code: CodeNoSuchKey, Message: "gone"}).Error())
}

func TestResolveBucket(t *testing.T) {
	b, err := ResolveBucket("call", "default")
	assert.NoError(t, err)
	assert.Equal(t, "call", b)

	b, err = ResolveBucket("", "default")
	assert.NoError(t, err)
	assert.Equal(t, "default", b)

	_, err = ResolveBucket("", "")
	assert.ErrorIs(t, err, ErrMissingBucket)
	assert.Equal(t, CodeMissingParameter, ErrorCode(err))
}
