package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"mercator-hq/sweeper/pkg/retention"
)

// Discord JSON error codes the sink distinguishes.
const (
	codeUnknownChannel       = 10003
	codeUnknownMessage       = 10008
	codeMissingAccess        = 50001
	codeBulkDeleteMessageOld = 50034
)

// mapError translates a REST failure into the retention error taxonomy and
// wraps it in a SinkError.
func mapError(op, channelID string, err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return retention.NewSinkError(op, channelID, err)
	}

	code := 0
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}

	var cause error
	switch {
	case code == codeUnknownChannel, code == codeMissingAccess:
		cause = retention.ErrChannelUnreachable
	case code == codeUnknownMessage:
		cause = retention.ErrMessageNotFound
	case code == codeBulkDeleteMessageOld:
		cause = retention.ErrBulkTooOld
	case status == http.StatusNotFound && op == opFetchChannel:
		cause = retention.ErrChannelUnreachable
	case status == http.StatusNotFound && op == opDelete:
		cause = retention.ErrMessageNotFound
	case status == http.StatusForbidden && op == opFetchChannel:
		cause = retention.ErrChannelUnreachable
	default:
		return retention.NewSinkError(op, channelID, err)
	}
	return retention.NewSinkError(op, channelID, fmt.Errorf("%w (status %d, code %d)", cause, status, code))
}
