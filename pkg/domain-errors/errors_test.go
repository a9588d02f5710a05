package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	t.Run("wrapped code survives fmt wrapping", func(t *testing.T) {
		base := Wrap(errors.New("db down"), CodeInternal, "failed to load request")
		err := fmt.Errorf("outer: %w", base)

		assert.True(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Equal(t, "failed to load request", Message(err))
	})

	t.Run("unclassified errors are internal", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeNotFound))
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Equal(t, "internal error", Message(err))
	})

	t.Run("nil is never coded", func(t *testing.T) {
		assert.False(t, HasCode(nil, CodeInternal))
	})

	t.Run("error string includes cause", func(t *testing.T) {
		err := Wrap(errors.New("cause"), CodeConflict, "msg")
		assert.Equal(t, "msg: cause", err.Error())
		assert.Equal(t, "msg", New(CodeConflict, "msg").Error())
	})
}
