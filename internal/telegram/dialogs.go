package telegram

import (
	"errors"
	"fmt"
	"sync"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

// State is the step a chat is at in a multi-message dialog.
type State string

const (
	StateIdle         State = "idle"
	StateAwaitMobile  State = "await_mobile"
	StateAwaitOTP     State = "await_otp"
	StateAwaitPincode State = "await_pincode"
	StateAwaitAge     State = "await_age_group"
	StateAwaitDose    State = "await_dose"
	StateAwaitConfirm State = "await_confirm"
	StateAwaitState   State = "await_state"
	StateAwaitDist    State = "await_district"
)

// ErrBadTransition is returned for a move the dialog table does not allow.
var ErrBadTransition = errors.New("bad dialog transition")

// Every state may also return to idle.
var transitions = map[State][]State{
	StateIdle:         {StateAwaitMobile, StateAwaitPincode, StateAwaitState},
	StateAwaitMobile:  {StateAwaitMobile, StateAwaitOTP},
	StateAwaitOTP:     {StateAwaitOTP, StateAwaitMobile},
	StateAwaitPincode: {StateAwaitPincode, StateAwaitAge},
	StateAwaitAge:     {StateAwaitDose},
	StateAwaitDose:    {StateAwaitConfirm},
	StateAwaitConfirm: {},
	StateAwaitState:   {StateAwaitDist},
	StateAwaitDist:    {StateAwaitState},
}

// Dialog is a chat's dialog position plus the data collected so far.
type Dialog struct {
	State State

	// login
	Mobile string
	TxnID  string

	// track
	Pincode  string
	AgeGroup int
	Dose     domain.Dose

	// district
	StateID int
}

func allowed(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Dialogs holds in-memory dialog state per chat.
type Dialogs struct {
	mu    sync.Mutex
	chats map[int64]*Dialog
}

// NewDialogs returns an empty dialog table.
func NewDialogs() *Dialogs {
	return &Dialogs{chats: make(map[int64]*Dialog)}
}

// Get returns a copy of the chat's dialog; idle if none.
func (d *Dialogs) Get(chatID int64) Dialog {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dl, ok := d.chats[chatID]; ok {
		return *dl
	}
	return Dialog{State: StateIdle}
}

// Move transitions the chat to state to, applying update to the collected
// data first. Moving to idle drops the dialog.
func (d *Dialogs) Move(chatID int64, to State, update func(*Dialog)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.chats[chatID]
	if !ok {
		cur = &Dialog{State: StateIdle}
	}
	if !allowed(cur.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur.State, to)
	}
	if to == StateIdle {
		delete(d.chats, chatID)
		return nil
	}
	next := *cur
	if update != nil {
		update(&next)
	}
	next.State = to
	d.chats[chatID] = &next
	return nil
}

// Reset drops any dialog of the chat.
func (d *Dialogs) Reset(chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chats, chatID)
}
