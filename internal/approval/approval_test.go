// File: internal/approval/approval_test.go
package approval

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
)

func sampleEntry() schemas.ActionLogEntry {
	return schemas.ActionLogEntry{
		ID:         "e1",
		StepID:     "s2",
		ActionType: "click",
		RiskTier:   schemas.TierMandatory,
		Reason:     "mandatory-tier actions require approval under this profile",
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	granted, err := Static{Verdict: true}.Approve(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = Static{Verdict: false}.Approve(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestChannelNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "auto-approve", Static{Verdict: true}.Name())
	assert.Equal(t, "auto-deny", Static{Verdict: false}.Name())

	c, err := NewConsole(strings.NewReader(""), &bytes.Buffer{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "console", c.Name())

	// Bounded is plumbing: the audit record names the wrapped channel.
	b, err := NewBounded(c, time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "console", b.Name())
}

func TestConsoleVerdicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"yes word", "YES\n", true},
		{"no", "n\n", false},
		{"empty line", "\n", false},
		{"garbage", "maybe?\n", false},
		{"eof", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			c, err := NewConsole(strings.NewReader(tc.input), &out, zap.NewNop())
			require.NoError(t, err)

			granted, err := c.Approve(context.Background(), sampleEntry())
			require.NoError(t, err)
			assert.Equal(t, tc.want, granted)
			assert.Contains(t, out.String(), "APPROVAL REQUIRED")
			assert.Contains(t, out.String(), "click")
		})
	}
}

func TestConsoleRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	// A reader that never delivers a line.
	blocked, _ := io.Pipe()
	var out bytes.Buffer
	c, err := NewConsole(blocked, &out, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	granted, err := c.Approve(ctx, sampleEntry())
	assert.False(t, granted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoundedPassesThroughInTime(t *testing.T) {
	t.Parallel()

	b, err := NewBounded(Static{Verdict: true}, time.Second, zap.NewNop())
	require.NoError(t, err)

	granted, err := b.Approve(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestBoundedDeniesOnTimeout(t *testing.T) {
	t.Parallel()

	b, err := NewBounded(stallChannel{}, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	granted, err := b.Approve(context.Background(), sampleEntry())
	require.NoError(t, err, "timeout expiry is a denial, not an error")
	assert.False(t, granted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBoundedRejectsBadArguments(t *testing.T) {
	t.Parallel()

	_, err := NewBounded(nil, time.Second, zap.NewNop())
	assert.Error(t, err)
	_, err = NewBounded(Static{}, 0, zap.NewNop())
	assert.Error(t, err)
	_, err = NewBounded(Static{}, time.Second, nil)
	assert.Error(t, err)
}

// stallChannel waits for context cancellation and never answers on its own.
type stallChannel struct{}

func (stallChannel) Approve(ctx context.Context, _ schemas.ActionLogEntry) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stallChannel) Name() string { return "stall" }
