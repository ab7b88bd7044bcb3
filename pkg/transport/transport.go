// Package transport owns the TCP connection to the remote AMX debugger.
//
// It dials with a bounded number of attempts, transparently reconnects
// when a write hits a reset connection, frames every message (see package
// wire) and runs the notification listener: a goroutine that, while the
// virtual machine runs, waits for unsolicited breakpoint notifications.
//
// The connection is never read by the listener and by a request at the
// same time. SendRequest pauses the listener, waits for it to exit, runs
// the exchange and then lets the caller decide whether the listener
// should be started again.
package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amxdbg/amxdbg/pkg/logflags"
	"github.com/amxdbg/amxdbg/pkg/wire"
)

const (
	DefaultAddr            = "127.0.0.1:7667"
	DefaultConnectAttempts = 3
	DefaultSendRetries     = 1
	DefaultPollInterval    = 250 * time.Millisecond

	// NoSendRetry disables the send retry when used as Config.SendRetries.
	NoSendRetry = -1

	wireMaxLen = 120 // maximum number of payload bytes logged per frame
)

// DialFunc opens a connection, net.Dialer.DialContext has this signature.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config describes how to reach the remote debugger.
type Config struct {
	// Addr is the host:port of the remote debugger.
	Addr string

	// ConnectAttempts is the number of sequential dial attempts made by
	// Connect before giving up.
	ConnectAttempts int
	// ConnectRetryDelay is the pause between two dial attempts.
	ConnectRetryDelay time.Duration
	// DialTimeout bounds a single dial attempt, zero means no timeout.
	DialTimeout time.Duration

	// SendRetries is the number of times a write that failed because the
	// connection was reset is retried on a fresh connection. Zero selects
	// DefaultSendRetries, a negative value (NoSendRetry) disables retries.
	SendRetries int

	// PollInterval is how long the listener waits for data before checking
	// whether it has been paused.
	PollInterval time.Duration

	// RequestTimeout bounds a whole request/response exchange, zero means
	// no timeout.
	RequestTimeout time.Duration

	// Dial replaces the default TCP dialer.
	Dial DialFunc
}

func (cfg *Config) setDefaults() {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	switch {
	case cfg.SendRetries == 0:
		cfg.SendRetries = DefaultSendRetries
	case cfg.SendRetries < 0:
		cfg.SendRetries = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: cfg.DialTimeout}
		cfg.Dial = d.DialContext
	}
}

// NotifyFunc receives the unsolicited responses read by the listener.
type NotifyFunc func(resp wire.Response)

// ErrorFunc receives the error that terminated the listener.
type ErrorFunc func(err error)

// ApplyFunc consumes the response of a request. It runs while the
// listener is paused and returns whether the virtual machine is running,
// in which case the listener is started once it returns.
type ApplyFunc func(resp wire.Response) (running bool)

// stream is a live connection with its buffered reader.
type stream struct {
	conn net.Conn
	rdr  *bufio.Reader
}

// Transport is the single owner of the connection to the remote
// debugger.
type Transport struct {
	cfg Config

	reqMu sync.Mutex // serializes Connect, SendRequest and Close

	mu       sync.Mutex // protects the fields below
	s        *stream
	lst      *listener
	notify   NotifyFunc
	lstError ErrorFunc

	log     *logrus.Entry
	wireLog *logrus.Entry
}

// New returns a disconnected Transport. No I/O happens until the first
// call to Connect or SendRequest.
func New(cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{
		cfg:     cfg,
		log:     logflags.TransportLogger().WithField("addr", cfg.Addr),
		wireLog: logflags.WireLogger(),
	}
}

// Addr returns the address of the remote debugger.
func (t *Transport) Addr() string {
	return t.cfg.Addr
}

// SetNotificationHandler installs the callbacks used by the listener.
// They run on the listener goroutine.
func (t *Transport) SetNotificationHandler(notify NotifyFunc, onError ErrorFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify = notify
	t.lstError = onError
}

// Connected reports whether a connection is currently established.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s != nil
}

// Connect establishes the connection if it does not exist yet.
func (t *Transport) Connect(ctx context.Context) error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	_, err := t.connect(ctx, false)
	return err
}

// connect dials the remote debugger, making up to cfg.ConnectAttempts
// sequential attempts. wasConnected is only used to annotate the error.
func (t *Transport) connect(ctx context.Context, wasConnected bool) (*stream, error) {
	t.mu.Lock()
	s := t.s
	t.mu.Unlock()
	if s != nil {
		return s, nil
	}

	t.log.Debug("connecting to debugger")
	var lastErr error
	for attempt := 1; attempt <= t.cfg.ConnectAttempts; attempt++ {
		if attempt > 1 && t.cfg.ConnectRetryDelay > 0 {
			select {
			case <-time.After(t.cfg.ConnectRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		conn, err := t.cfg.Dial(ctx, "tcp", t.cfg.Addr)
		if err == nil {
			s = &stream{conn: conn, rdr: bufio.NewReader(conn)}
			t.mu.Lock()
			t.s = s
			t.mu.Unlock()
			t.log.Infof("connected to debugger (attempt %d)", attempt)
			return s, nil
		}
		lastErr = err
		t.log.Warnf("failed to connect (attempt %d): %v", attempt, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &OfflineError{Op: "connect", Addr: t.cfg.Addr, Attempts: t.cfg.ConnectAttempts, WasConnected: wasConnected, Err: lastErr}
}

// disconnect closes s if it is still the current connection.
func (t *Transport) disconnect(s *stream) {
	t.mu.Lock()
	if t.s == s {
		t.s = nil
	}
	t.mu.Unlock()
	if s != nil {
		s.conn.Close()
	}
}

// send writes frame to the connection. A write failing because the
// connection was reset or aborted is retried on a new connection, at most
// cfg.SendRetries times.
func (t *Transport) send(ctx context.Context, frame []byte) (*stream, error) {
	wasConnected := t.Connected()
	var lastErr error
	for attempt := 0; attempt <= t.cfg.SendRetries; attempt++ {
		s, err := t.connect(ctx, wasConnected)
		if err != nil {
			return nil, err
		}
		if _, err = s.conn.Write(frame); err == nil {
			return s, nil
		}
		t.disconnect(s)
		if !isTransient(err) {
			return nil, err
		}
		t.log.Warnf("connection lost while sending (attempt %d): %v", attempt+1, err)
		lastErr = err
		wasConnected = true
	}
	return nil, &OfflineError{Op: "send", Addr: t.cfg.Addr, Attempts: t.cfg.SendRetries + 1, WasConnected: true, Err: lastErr}
}

// receive reads one framed response from s.
func (t *Transport) receive(s *stream) (wire.Response, error) {
	payload, err := wire.ReadFrame(s.rdr)
	if err != nil {
		t.disconnect(s)
		if errors.Is(err, wire.ErrPeerClosed) || isTransient(err) {
			return wire.Response{}, &OfflineError{Op: "receive", Addr: t.cfg.Addr, WasConnected: true, Err: err}
		}
		return wire.Response{}, err
	}
	if logflags.Wire() {
		t.wireLog.Debugf("-> %s", truncate(payload))
	}
	resp, err := wire.UnmarshalResponse(payload)
	if err != nil {
		// the frame was consumed, but nothing guarantees the next one lines
		// up with a request we know about.
		t.disconnect(s)
		return wire.Response{}, err
	}
	return resp, nil
}

// SendRequest sends task and waits for its response, then calls apply
// with it. If the listener was running it is paused for the whole
// exchange; it is (re)started after apply if apply reports that the
// virtual machine is running.
//
// Without a RequestTimeout or a context deadline an unresponsive peer
// blocks SendRequest forever.
func (t *Transport) SendRequest(ctx context.Context, task wire.Task, apply ApplyFunc) error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	wasListening := t.pauseListener()

	resp, err := t.roundTrip(ctx, task)
	if err != nil {
		if wasListening && t.Connected() {
			t.startListener()
		}
		return err
	}

	if apply != nil && apply(resp) {
		t.startListener()
	}
	return nil
}

func (t *Transport) roundTrip(ctx context.Context, task wire.Task) (wire.Response, error) {
	if t.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer cancel()
	}

	payload := task.Marshal()
	if logflags.Wire() {
		t.wireLog.Debugf("<- %s %s", task, truncate(payload))
	}
	s, err := t.send(ctx, wire.AppendFrame(nil, payload))
	if err != nil {
		return wire.Response{}, err
	}

	var resp wire.Response
	if ctx.Done() == nil {
		resp, err = t.receive(s)
	} else {
		resp, err = t.receiveContext(ctx, s)
	}
	if err != nil {
		if ctx.Err() != nil {
			return wire.Response{}, ctx.Err()
		}
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return wire.Response{}, context.DeadlineExceeded
		}
		return wire.Response{}, err
	}
	t.log.Debugf("%s -> %s", task, resp)
	return resp, nil
}

// receiveContext is receive, interrupted when ctx is done.
func (t *Transport) receiveContext(ctx context.Context, s *stream) (wire.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	}
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			s.conn.SetReadDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	resp, err := t.receive(s)
	close(stop)
	<-exited
	s.conn.SetReadDeadline(time.Time{})
	return resp, err
}

// Close stops the listener and closes the connection.
func (t *Transport) Close() error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	t.pauseListener()
	t.mu.Lock()
	s := t.s
	t.s = nil
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.conn.Close()
}

func truncate(payload []byte) string {
	const hexdigits = "0123456789abcdef"
	n := len(payload)
	if n > wireMaxLen {
		n = wireMaxLen
	}
	out := make([]byte, 0, 2*n+3)
	for _, b := range payload[:n] {
		out = append(out, hexdigits[b>>4], hexdigits[b&0xf])
	}
	if n < len(payload) {
		out = append(out, "..."...)
	}
	return string(out)
}
