// Package push sends notifications to device tokens through a push provider
// and classifies provider responses into retryable and permanent failures.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrTokenInvalid marks a provider error meaning the device token can never
// succeed again (unregistered, malformed or bound to another sender).
// Providers wrap it so the gateway can classify the failure as permanent.
var ErrTokenInvalid = errors.New("push: device token is no longer valid")

const (
	defaultTimeout  = 10 * time.Second
	defaultPoolSize = 16
)

// Outcome is the per-recipient result of a push attempt.
type Outcome int

const (
	Delivered Outcome = iota
	RetryableFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RetryableFailure:
		return "retryable-failure"
	case PermanentFailure:
		return "permanent-failure"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Content is the user-visible part of a notification.
type Content struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notification is a single provider request.
type Notification struct {
	Token string
	Content
}

// Provider is the logical send contract of a push provider. Implementations
// must honour ctx and wrap ErrTokenInvalid for permanent token failures.
type Provider interface {
	Send(ctx context.Context, notification Notification) error
}

// Recipient is one (user, device token) pair of a batch.
type Recipient struct {
	UserID string
	Token  string
}

// Result is the outcome of one push attempt.
type Result struct {
	UserID  string
	Token   string
	Outcome Outcome
	Err     error
}

// Config bounds the gateway's provider calls.
type Config struct {
	// Timeout caps every provider call.
	Timeout time.Duration
	// PoolSize caps concurrent provider calls inside one SendBatch.
	PoolSize int
}

// Gateway fans notifications out to a Provider.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	poolSize int
	logger   *slog.Logger
}

// NewGateway creates a Gateway. Zero config values fall back to defaults.
func NewGateway(provider Provider, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("push provider cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	return &Gateway{
		provider: provider,
		timeout:  cfg.Timeout,
		poolSize: cfg.PoolSize,
		logger:   logger.With("component", "PushGateway"),
	}, nil
}

// Classify maps a provider error to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrTokenInvalid):
		return PermanentFailure
	default:
		return RetryableFailure
	}
}

// SendOne pushes content to a single token. Failures are returned in the
// Result, never as a panic or error.
func (g *Gateway) SendOne(ctx context.Context, token string, content Content) Result {
	return g.send(ctx, Recipient{Token: token}, content)
}

// SendBatch pushes content to every recipient with at most PoolSize
// provider calls in flight. The result slice has one entry per recipient in
// input order. A token listed more than once is sent once and its result is
// copied to the later entries.
func (g *Gateway) SendBatch(ctx context.Context, recipients []Recipient, content Content) []Result {
	results := make([]Result, len(recipients))
	firstIndex := make(map[string]int, len(recipients))

	var grp errgroup.Group
	grp.SetLimit(g.poolSize)
	for i, r := range recipients {
		if _, seen := firstIndex[r.Token]; seen {
			continue
		}
		firstIndex[r.Token] = i
		grp.Go(func() error {
			results[i] = g.send(ctx, r, content)
			return nil
		})
	}
	_ = grp.Wait()

	for i, r := range recipients {
		if j := firstIndex[r.Token]; j != i {
			results[i] = results[j]
			results[i].UserID = r.UserID
		}
	}

	g.logSummary(results)
	return results
}

func (g *Gateway) send(ctx context.Context, r Recipient, content Content) Result {
	res := Result{UserID: r.UserID, Token: r.Token}
	if r.Token == "" {
		res.Outcome = PermanentFailure
		res.Err = fmt.Errorf("%w: empty token", ErrTokenInvalid)
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("push provider panicked: %v", p)
			}
		}()
		done <- g.provider.Send(callCtx, Notification{Token: r.Token, Content: content})
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = fmt.Errorf("push send aborted: %w", callCtx.Err())
	}

	res.Outcome = Classify(err)
	res.Err = err
	switch res.Outcome {
	case PermanentFailure:
		g.logger.Info("Push token rejected by provider", "user", r.UserID, "err", err)
	case RetryableFailure:
		g.logger.Warn("Push delivery failed", "user", r.UserID, "err", err)
	}
	return res
}

func (g *Gateway) logSummary(results []Result) {
	var delivered, retryable, permanent int
	for _, r := range results {
		switch r.Outcome {
		case Delivered:
			delivered++
		case RetryableFailure:
			retryable++
		case PermanentFailure:
			permanent++
		}
	}
	g.logger.Debug("Push batch complete",
		"total", len(results),
		"delivered", delivered,
		"retryable", retryable,
		"permanent", permanent,
	)
}
