// Package web mirrors presentation events to a browser.  A small chi
// server serves a single page, a websocket that streams events as JSON
// and a metrics snapshot.
package web

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"rsc.io/qr"

	"wabotctl/internal/session"
	"wabotctl/present"
	"wabotctl/util"
)

// Event is one message on the websocket.
type Event struct {
	Type     string          `json:"type"`
	Time     string          `json:"time"`
	Image    string          `json:"image,omitempty"`
	Text     string          `json:"text,omitempty"`
	Level    string          `json:"level,omitempty"`
	Username string          `json:"username,omitempty"`
	Status   *present.Status `json:"status,omitempty"`
}

// Presenter broadcasts every render call to the hub and remembers the
// latest code, instruction and status so late subscribers catch up.
type Presenter struct {
	hub    *Hub
	logger *util.Logger

	mu          sync.Mutex
	lastCode    *Event
	lastText    *Event
	lastStatus  *Event
	lastProfile *Event
}

// NewPresenter returns a presenter publishing to hub.
func NewPresenter(hub *Hub, logger *util.Logger) *Presenter {
	if logger == nil {
		logger = util.Discard()
	}
	return &Presenter{hub: hub, logger: logger.With("web")}
}

func (p *Presenter) publish(ev Event, keep **Event) {
	ev.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode %s event: %v", ev.Type, err)
		return
	}
	if keep != nil {
		p.mu.Lock()
		*keep = &ev
		p.mu.Unlock()
	}
	p.hub.Broadcast(data)
}

// Replay returns the retained events, oldest concern first.
func (p *Presenter) Replay() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out [][]byte
	for _, ev := range []*Event{p.lastProfile, p.lastStatus, p.lastCode, p.lastText} {
		if ev == nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err == nil {
			out = append(out, data)
		}
	}
	return out
}

func (p *Presenter) clear() {
	p.mu.Lock()
	p.lastCode, p.lastText, p.lastStatus, p.lastProfile = nil, nil, nil, nil
	p.mu.Unlock()
}

func (p *Presenter) ShowLogin() {
	p.clear()
	p.publish(Event{Type: "login"}, nil)
}

func (p *Presenter) ShowProfile(u session.User) {
	p.publish(Event{Type: "profile", Username: u.Username}, &p.lastProfile)
}

// ShowPairingCode sends the code as a PNG data URL.
func (p *Presenter) ShowPairingCode(code string) {
	img, err := codeImage(code)
	if err != nil {
		p.logger.Error("render pairing code: %v", err)
		p.publish(Event{Type: "instruction", Text: "Could not render the pairing code. Try again."}, &p.lastText)
		return
	}
	p.publish(Event{Type: "code", Image: img}, &p.lastCode)
}

func (p *Presenter) ShowInstruction(text string) {
	p.publish(Event{Type: "instruction", Text: text}, &p.lastText)
}

func (p *Presenter) ShowStatus(st present.Status) {
	if st.Connected && st.PhoneNumber != "" {
		p.mu.Lock()
		p.lastCode = nil
		p.mu.Unlock()
	}
	p.publish(Event{Type: "status", Status: &st}, &p.lastStatus)
}

func (p *Presenter) Notify(level present.Level, msg string) {
	p.publish(Event{Type: "notify", Level: level.String(), Text: msg}, nil)
}

func (p *Presenter) SessionExpired() {
	p.clear()
	p.publish(Event{Type: "expired", Level: present.LevelError.String(), Text: "Session expired. Log in again."}, nil)
}

func codeImage(code string) (string, error) {
	c, err := qr.Encode(code, qr.L)
	if err != nil {
		return "", err
	}
	c.Scale = 6
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.PNG()), nil
}
