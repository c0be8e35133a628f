// File: internal/approval/approval.go
// Description: Approval channel implementations. Static answers every request
// with a fixed verdict, Console asks a human on an interactive terminal, and
// Bounded wraps any channel with the profile's idle escalation timeout so an
// unattended prompt becomes a denial instead of a hung run.
package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
)

// Static is a fixed-verdict channel for non-interactive runs: auto-approve
// in lab environments, auto-deny for dry runs.
type Static struct {
	Verdict bool
}

func (s Static) Approve(context.Context, schemas.ActionLogEntry) (bool, error) {
	return s.Verdict, nil
}

func (s Static) Name() string {
	if s.Verdict {
		return "auto-approve"
	}
	return "auto-deny"
}

// Console collects verdicts from an interactive terminal.
type Console struct {
	in  *bufio.Reader
	out io.Writer
	log *zap.Logger
}

// NewConsole builds a console channel over the given streams. Pass os.Stdin
// and os.Stdout in production; tests inject buffers.
func NewConsole(in io.Reader, out io.Writer, logger *zap.Logger) (*Console, error) {
	if in == nil || out == nil {
		return nil, errors.New("console approval requires input and output streams")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Console{
		in:  bufio.NewReader(in),
		out: out,
		log: logger.Named("approval"),
	}, nil
}

// Approve prompts and blocks for a line of input. Only an explicit "y" or
// "yes" grants; everything else, including EOF, denies.
func (c *Console) Approve(ctx context.Context, entry schemas.ActionLogEntry) (bool, error) {
	fmt.Fprintf(c.out, "\n[APPROVAL REQUIRED] action=%s step=%s tier=%s\n", entry.ActionType, entry.StepID, entry.RiskTier)
	if entry.Reason != "" {
		fmt.Fprintf(c.out, "  reason: %s\n", entry.Reason)
	}
	fmt.Fprint(c.out, "Approve this action? [y/N]: ")

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("reading approval input: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.text)) {
		case "y", "yes":
			c.log.Info("Action approved at console", zap.String("action", entry.ActionType), zap.String("step", entry.StepID))
			return true, nil
		default:
			c.log.Info("Action denied at console", zap.String("action", entry.ActionType), zap.String("step", entry.StepID))
			return false, nil
		}
	}
}

func (c *Console) Name() string {
	return "console"
}

// Bounded wraps another channel with an idle timeout. Expiry is a plain
// denial, not an error, so the engine escalates instead of failing.
type Bounded struct {
	inner   schemas.ApprovalChannel
	timeout time.Duration
	log     *zap.Logger
}

// NewBounded wraps inner with the given idle timeout.
func NewBounded(inner schemas.ApprovalChannel, timeout time.Duration, logger *zap.Logger) (*Bounded, error) {
	if inner == nil {
		return nil, errors.New("inner approval channel cannot be nil")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %s", timeout)
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Bounded{
		inner:   inner,
		timeout: timeout,
		log:     logger.Named("approval"),
	}, nil
}

func (b *Bounded) Approve(ctx context.Context, entry schemas.ActionLogEntry) (bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type verdict struct {
		granted bool
		err     error
	}
	ch := make(chan verdict, 1)
	go func() {
		granted, err := b.inner.Approve(timeoutCtx, entry)
		ch <- verdict{granted: granted, err: err}
	}()

	select {
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			b.log.Warn("Approval request idle timeout expired, denying",
				zap.String("action", entry.ActionType),
				zap.String("step", entry.StepID),
				zap.Duration("timeout", b.timeout))
			return false, nil
		}
		return false, timeoutCtx.Err()
	case v := <-ch:
		return v.granted, v.err
	}
}

// Name reports the wrapped channel's identity; the timeout is plumbing, not
// an approver.
func (b *Bounded) Name() string {
	return b.inner.Name()
}
