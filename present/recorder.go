package present

import (
	"fmt"
	"sync"

	"wabotctl/internal/session"
)

// Recorder keeps every call as a short event string, e.g.
// "code:2@abc" or "notify:error:boom".  It is used by headless callers
// and tests.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *Recorder) ShowLogin()                  { r.add("login") }
func (r *Recorder) ShowProfile(u session.User)  { r.add("profile:%s", u.Username) }
func (r *Recorder) ShowPairingCode(code string) { r.add("code:%s", code) }
func (r *Recorder) ShowInstruction(text string) { r.add("instruction:%s", text) }
func (r *Recorder) SessionExpired()             { r.add("expired") }

func (r *Recorder) ShowStatus(st Status) {
	r.add("status:%v:%s", st.Connected, st.PhoneNumber)
}

func (r *Recorder) Notify(level Level, msg string) {
	r.add("notify:%s:%s", level, msg)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Count returns how many recorded events equal ev.
func (r *Recorder) Count(ev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

// CountPrefix returns how many recorded events start with prefix.
func (r *Recorder) CountPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
