// Package generator talks to the external text-generation service that
// writes conversational replies.
package generator

import (
	"context"
	"errors"
	"net"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/reply"
)

var (
	// ErrTimeout means the service did not answer within the deadline.
	ErrTimeout = errors.New("generation timed out")
	// ErrNetwork means the service could not be reached or failed the call.
	ErrNetwork = errors.New("generation network error")
	// ErrEmptyResponse means the service answered with no usable text.
	ErrEmptyResponse = errors.New("generation returned empty response")
)

// Request is everything the generator is told about one inbound message.
type Request struct {
	UserText      string
	SenderName    string
	Exchanges     []domain.Exchange
	Language      reply.Language
	PriorMessages int
}

// Generator produces a reply for a request. Implementations return errors
// wrapping ErrTimeout, ErrNetwork or ErrEmptyResponse.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// classify maps transport-level failures onto the generation sentinels.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrEmptyResponse) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrNetwork, err)
}
