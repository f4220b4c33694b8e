package ingesterr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	cause := errors.New("connection reset")
	err := TransientIO("fetch object", cause)
	wrapped := fmt.Errorf("worker step 2: %w", err)

	assert.True(t, Is(wrapped, KindTransientIO))
	assert.False(t, Is(wrapped, KindDataMalformed))
	assert.False(t, Is(errors.New("plain"), KindTransientIO))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := DataMalformed("bad row", cause)

	assert.Same(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "data_malformed")
	assert.Contains(t, err.Error(), "boom")
}

func TestLedgerConflictAndCancelledHaveNoCause(t *testing.T) {
	c := LedgerConflict("already in progress elsewhere")
	assert.Nil(t, c.Unwrap())
	assert.Equal(t, KindLedgerConflict, c.Kind)

	s := Cancelled("shutdown")
	assert.Nil(t, s.Unwrap())
	assert.Equal(t, KindCancelled, s.Kind)
}

func TestAbbreviate(t *testing.T) {
	short := errors.New("short message")
	assert.Equal(t, "short message", Abbreviate(short, 2000))

	long := errors.New(strings.Repeat("x", 100))
	got := Abbreviate(long, 10)
	assert.Equal(t, strings.Repeat("x", 10)+"...(truncated)", got)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "remote_degraded", KindRemoteDegraded.String())
	assert.Equal(t, "unknown", Kind(999).String())
}
