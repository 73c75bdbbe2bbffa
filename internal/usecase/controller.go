package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studiomic/internal/domain"
	"studiomic/internal/logging"
	"studiomic/internal/ports"
	"studiomic/internal/protocol"
	"studiomic/internal/transport"
)

var log = logging.L("session")

var (
	// ErrNoActiveSession is returned by Stop and Abort when nothing is recording.
	ErrNoActiveSession = errors.New("no active recording session")
	// ErrSessionBusy rejects a call while another operation owns the session.
	ErrSessionBusy = errors.New("a recording session is already in progress")
	// ErrInvalidTransition marks a state change the session table does not allow.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInvalidMode rejects a recording mode other than voice or hum.
	ErrInvalidMode = errors.New("unknown recording mode")
	// ErrClosed is returned once the controller has been torn down.
	ErrClosed = errors.New("session controller closed")
)

// RemoteError is a reply with success=false. Detail is the backend's message verbatim.
type RemoteError struct {
	Detail string
}

func (e *RemoteError) Error() string {
	return "backend error: " + e.Detail
}

// ErrorPolicy decides whether transport failures become Conversation Log
// entries or inline UI errors.
type ErrorPolicy string

const (
	ErrorPolicyLog    ErrorPolicy = "log"
	ErrorPolicyInline ErrorPolicy = "inline"
)

// Config holds the controller's caller policy.
type Config struct {
	ErrorPolicy ErrorPolicy
}

// SessionController drives capture, encoding and the backend round trip for
// one recording at a time, and records the outcome in the conversation.
type SessionController struct {
	recorder  ports.Recorder
	encoder   ports.Encoder
	transport ports.Transport
	history   ports.ConversationLog
	events    ports.EventSink
	cfg       Config
	now       func() time.Time

	mu     sync.Mutex
	m      machine
	busy   bool
	nextID uint64
	closed bool
}

func NewSessionController(
	recorder ports.Recorder,
	encoder ports.Encoder,
	transport ports.Transport,
	history ports.ConversationLog,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.ErrorPolicy != ErrorPolicyInline {
		cfg.ErrorPolicy = ErrorPolicyLog
	}
	return &SessionController{
		recorder:  recorder,
		encoder:   encoder,
		transport: transport,
		history:   history,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
		m:         machine{state: domain.SessionStateIdle},
	}
}

// Start acquires the microphone and begins a recording in mode. It is rejected
// with ErrSessionBusy unless the session is Idle.
func (c *SessionController) Start(ctx context.Context, mode domain.RecordingMode) error {
	if mode == "" {
		mode = domain.RecordingModeVoice
	}
	if mode != domain.RecordingModeVoice && mode != domain.RecordingModeHum {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy || c.m.state != domain.SessionStateIdle {
		c.mu.Unlock()
		return ErrSessionBusy
	}
	c.busy = true
	c.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(ctx)
	err := c.recorder.Start(sessionCtx)

	c.mu.Lock()
	c.busy = false
	if err == nil && c.closed {
		err = ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		cancel()
		if errors.Is(err, ErrClosed) {
			_ = c.recorder.Close()
			return err
		}
		log.Warn("recording could not start", logging.KeyError, err)
		c.events.SessionError(domain.ErrorCodeDeviceUnavailable, err.Error())
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonDeviceUnavailable)
		return err
	}

	c.nextID++
	c.m.current = &activeSession{
		session: domain.RecordingSession{
			ID:        c.nextID,
			Mode:      mode,
			StartedAt: c.now(),
		},
		cancel: cancel,
	}
	_ = c.m.transition(domain.SessionStateRecording)
	id := c.nextID
	c.mu.Unlock()

	log.Info("recording started", logging.KeySession, id, "mode", mode)
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

// Stop finalizes the recording, encodes it, sends it to the backend and waits
// for the reply. Failures leave the session Failed until Reset.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return domain.StopResult{}, ErrSessionBusy
	}
	if c.m.state != domain.SessionStateRecording {
		c.mu.Unlock()
		return domain.StopResult{}, ErrNoActiveSession
	}
	active := c.m.current
	active.session.StoppedAt = c.now()
	_ = c.m.transition(domain.SessionStateFinalizing)
	c.mu.Unlock()

	sessionLog := log.With(logging.KeySession, active.session.ID)
	c.events.SessionStateChanged(domain.SessionStateFinalizing, domain.SessionReasonEncoding)

	chunks, err := c.recorder.Stop()
	if err != nil {
		sessionLog.Warn("microphone release was not clean", logging.KeyError, err)
	}
	c.mu.Lock()
	active.session.Chunks = chunks
	c.mu.Unlock()

	encoded, err := c.encoder.Encode(chunks)
	if err != nil {
		sessionLog.Warn("encoding failed", logging.KeyError, err, "chunks", len(chunks))
		c.events.SessionError(domain.ErrorCodeEncoding, err.Error())
		c.finish(active, domain.SessionStateFailed, domain.SessionReasonEncodingFailed)
		return domain.StopResult{}, err
	}

	// Only Stop moves a session out of Finalizing, so the transition is legal.
	c.mu.Lock()
	_ = c.m.transition(domain.SessionStateAwaitingReply)
	c.mu.Unlock()
	c.events.SessionStateChanged(domain.SessionStateAwaitingReply, domain.SessionReasonAwaitingBackend)

	kind := protocol.KindAudioForTranscription
	if active.session.Mode == domain.RecordingModeHum {
		kind = protocol.KindAudioForConversion
	}

	// Close cancels this context, which deregisters the transport listener.
	sendCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	previous := active.cancel
	active.cancel = func() {
		cancel()
		previous()
	}
	closed := c.closed
	c.mu.Unlock()
	defer cancel()

	var reply protocol.Reply
	if closed {
		err = context.Canceled
	} else {
		reply, err = c.transport.Send(sendCtx, kind, protocol.AudioPayload{
			Audio:      encoded.Data,
			Format:     encoded.Format,
			SampleRate: encoded.SampleRate,
			Channels:   encoded.Channels,
		})
	}
	if err == nil {
		c.mu.Lock()
		active.session.CorrelationID = reply.ID
		c.mu.Unlock()
		sessionLog = logging.WithRequest(sessionLog, reply.ID, string(kind))
	}

	msg, err := c.handleReply(reply, err)
	if err != nil {
		code, reason := classify(err)
		sessionLog.Warn("backend request failed", logging.KeyError, err, "reason", reason)
		if reason != domain.SessionReasonCancelled {
			c.surfaceFailure(code, err)
		}
		c.finish(active, domain.SessionStateFailed, reason)
		return domain.StopResult{}, err
	}

	sessionLog.Info("reply received", "kind", msg.Kind)
	c.finish(active, domain.SessionStateComplete, domain.SessionReasonReplyReceived)
	return domain.StopResult{CorrelationID: reply.ID, Message: msg}, nil
}

// Abort discards the current recording without encoding or sending it.
func (c *SessionController) Abort() error {
	c.mu.Lock()
	if c.busy || c.m.state != domain.SessionStateRecording {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	active := c.m.current
	c.busy = true
	c.mu.Unlock()

	if err := c.recorder.Close(); err != nil {
		log.Warn("microphone release was not clean", logging.KeyError, err)
	}

	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.finish(active, domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
	return nil
}

// Reset returns a Complete or Failed session to Idle. Resetting an Idle
// session is a no-op.
func (c *SessionController) Reset() error {
	c.mu.Lock()
	switch c.m.state {
	case domain.SessionStateIdle:
		c.mu.Unlock()
		return nil
	case domain.SessionStateComplete, domain.SessionStateFailed:
		_ = c.m.transition(domain.SessionStateIdle)
		c.m.current = nil
		c.mu.Unlock()
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReset)
		return nil
	default:
		c.mu.Unlock()
		return ErrSessionBusy
	}
}

// Close tears the controller down: an outstanding backend request is
// cancelled and the microphone is released if still held.
func (c *SessionController) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var cancel context.CancelFunc
	if c.m.current != nil {
		cancel = c.m.current.cancel
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return c.recorder.Close()
}

// Status returns the current runtime status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	state := c.m.state
	var mode domain.RecordingMode
	if c.m.current != nil {
		mode = c.m.current.session.Mode
	}
	c.mu.Unlock()

	return domain.Status{
		State:     state,
		Mode:      mode,
		Active:    state == domain.SessionStateRecording || state == domain.SessionStateFinalizing || state == domain.SessionStateAwaitingReply,
		Connected: c.transport.Connected(),
	}
}

// Session returns a copy of the current or most recent recording session.
func (c *SessionController) Session() (domain.RecordingSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m.current == nil {
		return domain.RecordingSession{}, false
	}
	return c.m.current.session, true
}

// HandleCaptureError reports a microphone stream failure during recording.
func (c *SessionController) HandleCaptureError(err error) {
	if err == nil {
		return
	}
	c.events.SessionError(domain.ErrorCodeAudioStream, err.Error())
}

func (c *SessionController) finish(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	if c.m.current != active {
		c.mu.Unlock()
		return
	}
	if err := c.m.transition(state); err != nil {
		c.mu.Unlock()
		log.Error("dropping illegal transition", logging.KeyError, err)
		return
	}
	active.cancel()
	if state == domain.SessionStateIdle {
		c.m.current = nil
	}
	c.mu.Unlock()

	c.events.SessionStateChanged(state, reason)
}

// handleReply turns a transport outcome into the assistant message it produced.
func (c *SessionController) handleReply(reply protocol.Reply, err error) (domain.Message, error) {
	if err != nil {
		return domain.Message{}, err
	}
	if !reply.Success {
		return domain.Message{}, &RemoteError{Detail: reply.Error}
	}
	payload, err := reply.DecodePayload()
	if err != nil {
		return domain.Message{}, &RemoteError{Detail: "malformed reply payload: " + err.Error()}
	}

	msg := c.history.Append(assistantMessage(payload))
	c.events.MessageAppended(msg)
	return msg, nil
}

func assistantMessage(payload protocol.ReplyPayload) domain.Message {
	msg := domain.Message{
		Sender:     domain.SenderAssistant,
		Kind:       domain.MessageKindText,
		Text:       payload.Response,
		Transcript: payload.Transcript,
	}
	switch {
	case payload.GenerationResult != nil:
		msg.Kind = domain.MessageKindGenerationResult
		msg.Generation = payload.GenerationResult
		msg.Audio = payload.Audio
	case len(payload.Audio) > 0:
		msg.Kind = domain.MessageKindAudioAttachment
		msg.Audio = payload.Audio
	}
	return msg
}

// surfaceFailure shows a backend failure to the user according to the error policy.
func (c *SessionController) surfaceFailure(code domain.ErrorCode, err error) {
	detail := err.Error()
	var remote *RemoteError
	if errors.As(err, &remote) {
		detail = remote.Detail
	}

	if c.cfg.ErrorPolicy == ErrorPolicyInline {
		c.events.SessionError(code, detail)
		return
	}
	msg := c.history.Append(domain.Message{
		Sender: domain.SenderAssistant,
		Kind:   domain.MessageKindText,
		Text:   detail,
		Failed: true,
	})
	c.events.MessageAppended(msg)
}

func classify(err error) (domain.ErrorCode, domain.SessionStateReason) {
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return domain.ErrorCodeRemote, domain.SessionReasonRemoteError
	case errors.Is(err, transport.ErrBackendTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorCodeBackendTimeout, domain.SessionReasonBackendTimeout
	case errors.Is(err, transport.ErrNotConnected):
		return domain.ErrorCodeNotConnected, domain.SessionReasonNotConnected
	case errors.Is(err, context.Canceled):
		return domain.ErrorCodeChannelClosed, domain.SessionReasonCancelled
	default:
		return domain.ErrorCodeChannelClosed, domain.SessionReasonChannelClosed
	}
}
