package session

import (
	"errors"

	"github.com/ashureev/replybot/internal/domain"
)

// Results reported for an operator send.
const (
	SendSuccess  = "success"
	SendNotFound = "notFound"
	SendNotReady = "notReady"
	SendError    = "sendError"
)

// SendResult maps the error from Manager.SendMessage to its result name.
func SendResult(err error) string {
	switch {
	case err == nil:
		return SendSuccess
	case errors.Is(err, domain.ErrSessionNotFound):
		return SendNotFound
	case errors.Is(err, domain.ErrNotReady):
		return SendNotReady
	default:
		return SendError
	}
}
