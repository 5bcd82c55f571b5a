package present

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"

	"wabotctl/internal/session"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

// Terminal renders to a text stream.  Pairing codes are drawn as QR
// codes with half-block characters.  Colour is used only when the
// output is a terminal.
type Terminal struct {
	mu         sync.Mutex
	out        io.Writer
	color      bool
	lastStatus *Status
	lastText   string
}

// NewTerminal returns a presenter writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out, color: isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (t *Terminal) paint(code, s string) string {
	if !t.color {
		return s
	}
	return code + s + ansiReset
}

func (t *Terminal) ShowLogin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastStatus = nil
	fmt.Fprintln(t.out, "Not logged in. Run 'wabotctl login' to sign in.")
}

func (t *Terminal) ShowProfile(u session.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bot := "off"
	if u.BotEnabled {
		bot = "on"
	}
	fmt.Fprintf(t.out, "Logged in as %s (bot %s)\n", u.Username, bot)
	if u.Prompt != "" {
		fmt.Fprintf(t.out, "Prompt: %s\n", u.Prompt)
	}
}

func (t *Terminal) ShowPairingCode(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out)
	qrterminal.GenerateHalfBlock(code, qrterminal.L, t.out)
	fmt.Fprintln(t.out)
}

// ShowInstruction prints text unless it repeats the previous line.
func (t *Terminal) ShowInstruction(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if text == t.lastText {
		return
	}
	t.lastText = text
	fmt.Fprintln(t.out, t.paint(ansiDim, text))
}

// ShowStatus prints the summary when it differs from the last one, so
// that periodic polls stay quiet.
func (t *Terminal) ShowStatus(st Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastStatus != nil && *t.lastStatus == st {
		return
	}
	t.lastStatus = &st
	fmt.Fprintln(t.out, t.formatStatus(st))
}

func (t *Terminal) formatStatus(st Status) string {
	var b strings.Builder
	if st.Connected {
		b.WriteString(t.paint(ansiGreen, "connected"))
	} else {
		b.WriteString(t.paint(ansiRed, "disconnected"))
	}
	phone := st.PhoneNumber
	if phone == "" {
		phone = "no phone number"
	}
	fmt.Fprintf(&b, "  phone: %s", phone)
	if st.BotActive {
		b.WriteString("  bot: on")
	} else {
		b.WriteString("  bot: off")
	}
	if st.State != "" {
		fmt.Fprintf(&b, "  [%s]", st.State)
	}
	return b.String()
}

func (t *Terminal) Notify(level Level, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch level {
	case LevelSuccess:
		fmt.Fprintln(t.out, t.paint(ansiGreen, msg))
	case LevelWarning:
		fmt.Fprintln(t.out, t.paint(ansiYellow, "warning: "+msg))
	case LevelError:
		fmt.Fprintln(t.out, t.paint(ansiRed, "error: "+msg))
	default:
		fmt.Fprintln(t.out, msg)
	}
}

func (t *Terminal) SessionExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastStatus = nil
	t.lastText = ""
	fmt.Fprintln(t.out, t.paint(ansiRed, "Session expired. Log in again with 'wabotctl login'."))
}
