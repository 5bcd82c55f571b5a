// Package present defines the rendering boundary.  The pairing
// controller and the console only ever talk to a [Presenter]; what the
// user actually sees (terminal text, a QR code, a browser page) lives
// behind it.
package present

import "wabotctl/internal/session"

// Level grades a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Status is the connection summary shown to the user.
type Status struct {
	State       string `json:"state,omitempty"`
	Connected   bool   `json:"connected"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	BotActive   bool   `json:"botActive"`
}

// Presenter receives render requests.  Implementations must not call
// back into the controller that invokes them.
type Presenter interface {
	// ShowLogin asks the user to authenticate.
	ShowLogin()
	// ShowProfile displays the signed-in user.
	ShowProfile(u session.User)
	// ShowPairingCode renders a pairing code for scanning.
	ShowPairingCode(code string)
	// ShowInstruction replaces the one-line progress text.
	ShowInstruction(text string)
	// ShowStatus updates the connection summary.
	ShowStatus(st Status)
	// Notify shows a transient message.
	Notify(level Level, msg string)
	// SessionExpired reports a forced logout.
	SessionExpired()
}

// Multi fans every call out to each presenter in order.
type Multi []Presenter

func (m Multi) ShowLogin() {
	for _, p := range m {
		p.ShowLogin()
	}
}

func (m Multi) ShowProfile(u session.User) {
	for _, p := range m {
		p.ShowProfile(u)
	}
}

func (m Multi) ShowPairingCode(code string) {
	for _, p := range m {
		p.ShowPairingCode(code)
	}
}

func (m Multi) ShowInstruction(text string) {
	for _, p := range m {
		p.ShowInstruction(text)
	}
}

func (m Multi) ShowStatus(st Status) {
	for _, p := range m {
		p.ShowStatus(st)
	}
}

func (m Multi) Notify(level Level, msg string) {
	for _, p := range m {
		p.Notify(level, msg)
	}
}

func (m Multi) SessionExpired() {
	for _, p := range m {
		p.SessionExpired()
	}
}

// Discard returns a presenter that renders nothing.
func Discard() Presenter { return Multi(nil) }
