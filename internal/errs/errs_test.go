package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	var base = errors.New("boom")

	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Equal(t, KindTransientWrite, KindOf(TransientWrite("insert", base)))
	assert.Equal(t, KindWindow, KindOf(fmt.Errorf("cycle: %w", Window("export", TransientWrite("insert", base)))))
}

func TestIsWalksNestedKinds(t *testing.T) {
	var err = Window("export", fmt.Errorf("batch 3: %w", Permanent("insert", errors.New("unknown table"))))

	assert.True(t, Is(err, KindWindow))
	assert.True(t, Is(err, KindPermanent))
	assert.False(t, Is(err, KindUsage))
	assert.False(t, Is(errors.New("plain"), KindPermanent))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "TRANSIENT_FETCH: select blocks: timeout", TransientFetch("select blocks", errors.New("timeout")).Error())
	assert.Equal(t, "USAGE: bad start", Usagef("bad %s", "start").Error())
	assert.ErrorIs(t, Connection("dial", errSentinel), errSentinel)
}

var errSentinel = errors.New("sentinel")
