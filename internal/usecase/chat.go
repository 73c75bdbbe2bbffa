package usecase

import (
	"context"
	"errors"
	"strings"

	"studiomic/internal/domain"
	"studiomic/internal/logging"
	"studiomic/internal/protocol"
)

var ErrEmptyMessage = errors.New("message is empty")

// SendMessage records a typed user message, forwards it to the backend and
// records the assistant's reply. It does not touch the recording state, so it
// may run while a recording is in progress.
func (c *SessionController) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return domain.Message{}, ErrClosed
	}

	user := c.history.Append(domain.Message{
		Sender: domain.SenderUser,
		Kind:   domain.MessageKindText,
		Text:   text,
	})
	c.events.MessageAppended(user)

	reply, err := c.transport.Send(ctx, protocol.KindMessage, protocol.MessagePayload{Message: text})
	msg, err := c.handleReply(reply, err)
	if err != nil {
		code, reason := classify(err)
		log.Warn("chat request failed", logging.KeyError, err, "reason", reason)
		if reason != domain.SessionReasonCancelled {
			c.surfaceFailure(code, err)
		}
		return domain.Message{}, err
	}
	logging.WithRequest(log, reply.ID, string(protocol.KindMessage)).Debug("chat reply received")
	return msg, nil
}

// SetPlayback marks whether the audio attached to message id is playing.
// Unknown ids are ignored.
func (c *SessionController) SetPlayback(id uint64, playing bool) (domain.Message, bool) {
	msg, ok := c.history.UpdateStatus(id, domain.StatusPatch{Playing: &playing})
	if !ok {
		log.Debug("playback update for unknown message", "id", id)
		return domain.Message{}, false
	}
	c.events.MessageUpdated(msg)
	return msg, true
}

// Conversation returns the conversation so far.
func (c *SessionController) Conversation() []domain.Message {
	return c.history.Snapshot()
}
