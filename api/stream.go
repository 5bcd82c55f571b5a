package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"wabotctl/internal/errors"
)

// EventKind classifies a pairing stream payload.
type EventKind int

const (
	EventUnknown   EventKind = iota
	EventCode                // a pairing code to display
	EventWaiting             // the service is still generating a code
	EventConnected           // the service reports the bot as paired
	EventFatal               // the service gave up; the stream is dead
)

// PairingEvent is one decoded server-push payload.
type PairingEvent struct {
	QR          string `json:"qr,omitempty"`
	Status      string `json:"status,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	Error       string `json:"error,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Kind reports what the payload carries.  A code wins over a status,
// and a status over an error.
func (e PairingEvent) Kind() EventKind {
	switch {
	case e.QR != "":
		return EventCode
	case e.Status == "waiting":
		return EventWaiting
	case e.Status == "connected":
		return EventConnected
	case e.Status != "":
		return EventUnknown
	case e.Error != "":
		return EventFatal
	default:
		return EventUnknown
	}
}

// AsStatus converts a pushed connected payload into a Status.
func (e PairingEvent) AsStatus() Status {
	return Status{Connected: e.Kind() == EventConnected, PhoneNumber: e.PhoneNumber}
}

// MalformedEventError is returned by [PairingStream.Next] for a payload
// that is not valid JSON.  The stream itself remains usable.
type MalformedEventError struct {
	Data string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed pairing event %q: %v", e.Data, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// PairingStream reads pairing events from a text/event-stream response.
type PairingStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

// OpenPairingStream connects to the pairing code stream of username.
// The token travels as a query parameter because the stream endpoint
// does not read headers.  The stream lives until ctx is cancelled,
// Close is called, or the server ends it.
func (g *Gateway) OpenPairingStream(ctx context.Context, username string) (*PairingStream, error) {
	endpoint := g.baseURL + "/whatsapp/qrcode-stream/" + url.PathEscape(username)
	q := url.Values{}
	if g.tokens != nil {
		q.Set("token", g.tokens.Token())
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", uuid.NewString())

	g.logger.Verbose("opening pairing stream %s", endpoint)
	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap("stream", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, errors.Wrap("stream", endpoint, fmt.Errorf("server returned %d", resp.StatusCode))
	}
	s := NewPairingStream(resp.Body)
	s.cancel = cancel
	return s, nil
}

// NewPairingStream wraps an event-stream body.
func NewPairingStream(body io.ReadCloser) *PairingStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxBodySize)
	return &PairingStream{body: body, scanner: sc, closed: make(chan struct{})}
}

// Next blocks until the next event is dispatched.  It returns
// *MalformedEventError for undecodable payloads, io.EOF when the server
// ends the stream and [errors.ErrStreamClosed] after Close.
func (s *PairingStream) Next() (PairingEvent, error) {
	var data []string
	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")

		if line == "" {
			if len(data) == 0 {
				continue
			}
			return decodeEvent(strings.Join(data, "\n"))
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keep-alive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
		// event, id and retry carry nothing the client uses.
	}

	select {
	case <-s.closed:
		return PairingEvent{}, errors.ErrStreamClosed
	default:
	}
	if err := s.scanner.Err(); err != nil {
		return PairingEvent{}, err
	}
	return PairingEvent{}, io.EOF
}

// Close ends the stream; a blocked Next returns.
func (s *PairingStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.cancel != nil {
			s.cancel()
		}
		err = s.body.Close()
	})
	return err
}

func decodeEvent(data string) (PairingEvent, error) {
	var ev PairingEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return PairingEvent{}, &MalformedEventError{Data: data, Err: err}
	}
	return ev, nil
}
