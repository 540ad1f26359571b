package session

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"odpbot/internal/models"
)

// State is the conversation step a chat is in
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingBusinessType State = "awaiting_business_type"
	StateAwaitingAddress      State = "awaiting_address"
	StateAwaitingLocation     State = "awaiting_location"
	StateAwaitingPackage      State = "awaiting_package"
	StateAwaitingPhoto        State = "awaiting_photo"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAwaitingODPLocation  State = "awaiting_odp_location"
)

// Events driving the conversation
const (
	EventAdd          = "add"
	EventBusinessType = "business_type"
	EventAddress      = "address"
	EventLocation     = "location"
	EventPackage      = "package"
	EventPhoto        = "photo"
	EventSubmit       = "submit"
	EventODP          = "odp"
	EventODPDone      = "odp_done"
)

var events = fsm.Events{
	{Name: EventAdd, Src: []string{string(StateIdle)}, Dst: string(StateAwaitingBusinessType)},
	{Name: EventBusinessType, Src: []string{string(StateAwaitingBusinessType)}, Dst: string(StateAwaitingAddress)},
	{Name: EventAddress, Src: []string{string(StateAwaitingAddress)}, Dst: string(StateAwaitingLocation)},
	{Name: EventLocation, Src: []string{string(StateAwaitingLocation)}, Dst: string(StateAwaitingPackage)},
	{Name: EventPackage, Src: []string{string(StateAwaitingPackage)}, Dst: string(StateAwaitingPhoto)},
	{Name: EventPhoto, Src: []string{string(StateAwaitingPhoto)}, Dst: string(StateAwaitingConfirmation)},
	{Name: EventSubmit, Src: []string{string(StateAwaitingConfirmation)}, Dst: string(StateIdle)},
	{Name: EventODP, Src: []string{string(StateIdle)}, Dst: string(StateAwaitingODPLocation)},
	{Name: EventODPDone, Src: []string{string(StateAwaitingODPLocation)}, Dst: string(StateIdle)},
}

// Session is the in-memory conversation of one chat
type Session struct {
	ChatID      int64
	Data        models.UserData
	Credentials *models.UserCredentials

	// PendingPhoto is the Telegram file ID of the photo being uploaded
	PendingPhoto string

	// RetryPending is set when a submit failed and Data is kept for a retry
	RetryPending bool

	LastActivity time.Time

	machine *fsm.FSM
	ended   bool
}

func newSession(chatID int64, now time.Time, logger *zap.Logger) *Session {
	s := &Session{ChatID: chatID, LastActivity: now}
	s.machine = fsm.NewFSM(string(StateIdle), events, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			logger.Debug("Session transition",
				zap.Int64("chat_id", chatID),
				zap.String("event", e.Event),
				zap.String("from", e.Src),
				zap.String("to", e.Dst),
			)
		},
	})
	return s
}

// State returns the current conversation step
func (s *Session) State() State {
	return State(s.machine.Current())
}

// Fire applies event to the state machine
func (s *Session) Fire(ctx context.Context, event string) error {
	if err := s.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("session %d: %s from %s: %w", s.ChatID, event, s.State(), err)
	}
	return nil
}

// Reset returns the session to idle and drops the collected form
func (s *Session) Reset() {
	s.machine.SetState(string(StateIdle))
	s.Data = models.UserData{}
	s.PendingPhoto = ""
	s.RetryPending = false
}

// End marks the session for removal once the current handler returns
func (s *Session) End() {
	s.Reset()
	s.ended = true
}

// InODPFlow reports whether the session is waiting for an ODP search location
func (s *Session) InODPFlow() bool {
	return s.State() == StateAwaitingODPLocation
}
