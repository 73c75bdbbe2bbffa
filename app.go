package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"studiomic/internal/bootstrap"
	"studiomic/internal/config"
	"studiomic/internal/domain"
	"studiomic/internal/transport"
	"studiomic/internal/usecase"
)

const (
	eventSession        = "studiomic:session"
	eventMessage        = "studiomic:message"
	eventMessageUpdated = "studiomic:message-updated"
	eventError          = "studiomic:error"
	eventTransport      = "studiomic:transport"
)

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	controller *usecase.SessionController
	transport  *transport.Client
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build("", a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.transport = services.Transport
	a.transport.Start(ctx)
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(context.Context) {
	if a.controller != nil {
		_ = a.controller.Close()
	}
	if a.transport != nil {
		_ = a.transport.Close()
	}
}

// StartRecording begins a recording in mode ("voice" or "hum"). A finished
// or failed session is reset first.
func (a *App) StartRecording(mode string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Reset(); err != nil && !errors.Is(err, usecase.ErrSessionBusy) {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx, domain.RecordingMode(mode)); err != nil {
		if errors.Is(err, usecase.ErrSessionBusy) || errors.Is(err, usecase.ErrInvalidMode) {
			a.SessionError(domain.ErrorCodeInvalidInput, err.Error())
		}
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopRecording finalizes the recording and waits for the backend reply.
// Stopping when nothing is recording is a no-op.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	result, err := a.controller.Stop(a.ctx)
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return domain.StopResult{}, nil
	}
	return result, err
}

// AbortRecording discards an in-progress recording.
func (a *App) AbortRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// ResetSession returns a finished session to idle.
func (a *App) ResetSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Reset()
}

// SendMessage sends a typed chat message and returns the assistant's reply.
func (a *App) SendMessage(text string) (domain.Message, error) {
	if err := a.requireReady(); err != nil {
		return domain.Message{}, err
	}
	msg, err := a.controller.SendMessage(a.ctx, text)
	if errors.Is(err, usecase.ErrEmptyMessage) {
		a.SessionError(domain.ErrorCodeInvalidInput, err.Error())
	}
	return msg, err
}

// SetPlayback marks an audio message as playing or stopped.
func (a *App) SetPlayback(id uint64, playing bool) (domain.Message, error) {
	if err := a.requireReady(); err != nil {
		return domain.Message{}, err
	}
	msg, ok := a.controller.SetPlayback(id, playing)
	if !ok {
		return domain.Message{}, fmt.Errorf("message %d not found", id)
	}
	return msg, nil
}

// GetConversation returns the conversation so far.
func (a *App) GetConversation() []domain.Message {
	if a.controller == nil {
		return nil
	}
	return a.controller.Conversation()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateIdle, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backendUrl":       a.cfg.Transport.BackendURL,
		"requestTimeout":   a.cfg.Transport.RequestTimeout.String(),
		"assistantTimeout": a.cfg.Transport.AssistantTimeout.String(),
		"errorPolicy":      string(a.cfg.Session.ErrorPolicy),
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) emitEvent(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.emitEvent(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// MessageAppended emits a new conversation entry.
func (a *App) MessageAppended(msg domain.Message) {
	a.emitEvent(eventMessage, msg)
}

// MessageUpdated emits a changed conversation entry.
func (a *App) MessageUpdated(msg domain.Message) {
	a.emitEvent(eventMessageUpdated, msg)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emitEvent(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// TransportStatusChanged emits backend connectivity changes.
func (a *App) TransportStatusChanged(connected bool) {
	a.emitEvent(eventTransport, map[string]bool{"connected": connected})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonEncoding:
		return "Recording stopped. Encoding..."
	case domain.SessionReasonAwaitingBackend:
		return "Waiting for the assistant..."
	case domain.SessionReasonReplyReceived:
		return "Reply received"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonDeviceUnavailable:
		return "Microphone unavailable"
	case domain.SessionReasonEncodingFailed:
		return "Could not encode the recording"
	case domain.SessionReasonBackendTimeout:
		return "The backend did not answer in time"
	case domain.SessionReasonChannelClosed:
		return "Connection to the backend was lost"
	case domain.SessionReasonNotConnected:
		return "Not connected to the backend"
	case domain.SessionReasonRemoteError:
		return "The backend reported an error"
	case domain.SessionReasonCancelled:
		return "Request cancelled"
	case domain.SessionReasonReset:
		return "Ready"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDeviceUnavailable:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeEncoding:
		return "Encoding failed"
	case domain.ErrorCodeBackendTimeout:
		return "Backend timeout"
	case domain.ErrorCodeChannelClosed:
		return "Connection lost"
	case domain.ErrorCodeNotConnected:
		return "Not connected"
	case domain.ErrorCodeRemote:
		return "Backend error"
	case domain.ErrorCodeInvalidInput:
		return "Invalid request"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
