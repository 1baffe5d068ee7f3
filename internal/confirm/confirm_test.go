package confirm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuto(t *testing.T) {
	ok, err := Auto(true).Confirm(context.Background(), "release?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Auto(false).Confirm(context.Background(), "release?")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsoleReadsAnswersInOrder(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("y\nno\n YES \n"), &out)
	ctx := context.Background()

	for _, want := range []bool{true, false, true} {
		ok, err := c.Confirm(ctx, "create ad for p1?")
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
	assert.Equal(t, 3, strings.Count(out.String(), "create ad for p1? [y/N]: "))

	_, err := c.Confirm(ctx, "again?")
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsoleHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := NewConsole(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := c.Confirm(ctx, "release?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
