package transport

import (
	"errors"
	"net"
	"time"
)

// listener is one run of the notification listener goroutine.
type listener struct {
	cancel chan struct{}
	done   chan struct{}
}

// Listening reports whether the notification listener is running.
func (t *Transport) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lst != nil
}

// ResumeListener starts a new instance of the notification listener. It
// fails with ErrListenerActive if one is already running.
func (t *Transport) ResumeListener() error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	return t.startListener()
}

// PauseListener stops the notification listener and waits for its
// goroutine to exit, after which nothing reads the connection. Returns
// whether a listener was running.
func (t *Transport) PauseListener() bool {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	return t.pauseListener()
}

func (t *Transport) startListener() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lst != nil {
		return ErrListenerActive
	}
	l := &listener{cancel: make(chan struct{}), done: make(chan struct{})}
	t.lst = l
	go t.listen(l)
	t.log.Debug("listening for breakpoint notifications")
	return nil
}

func (t *Transport) pauseListener() bool {
	t.mu.Lock()
	l := t.lst
	t.lst = nil
	t.mu.Unlock()
	if l == nil {
		return false
	}
	close(l.cancel)
	<-l.done
	t.log.Debug("listener paused")
	return true
}

func (t *Transport) listen(l *listener) {
	defer close(l.done)
	for {
		select {
		case <-l.cancel:
			return
		default:
		}

		t.mu.Lock()
		s := t.s
		t.mu.Unlock()
		if s == nil {
			t.listenerFailed(l, &OfflineError{Op: "receive", Addr: t.cfg.Addr, WasConnected: true, Err: errors.New("not connected")})
			return
		}

		ready, err := t.waitReadable(s)
		if err != nil {
			t.disconnect(s)
			t.listenerFailed(l, &OfflineError{Op: "receive", Addr: t.cfg.Addr, WasConnected: true, Err: err})
			return
		}
		if !ready {
			continue
		}

		resp, err := t.receive(s)
		if err != nil {
			t.listenerFailed(l, err)
			return
		}
		t.log.Infof("breakpoint notification: %s", resp)
		t.mu.Lock()
		notify := t.notify
		t.mu.Unlock()
		if notify != nil {
			notify(resp)
		}
	}
}

// waitReadable waits up to cfg.PollInterval for the connection to have
// data available.
func (t *Transport) waitReadable(s *stream) (bool, error) {
	if s.rdr.Buffered() > 0 {
		return true, nil
	}
	s.conn.SetReadDeadline(time.Now().Add(t.cfg.PollInterval))
	_, err := s.rdr.Peek(1)
	s.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return true, nil
	}
	var neterr net.Error
	if errors.As(err, &neterr) && neterr.Timeout() {
		return false, nil
	}
	return false, err
}

// listenerFailed unregisters l, which is exiting on its own, and reports
// err.
func (t *Transport) listenerFailed(l *listener, err error) {
	t.log.Errorf("notification listener stopped: %v", err)
	t.mu.Lock()
	if t.lst == l {
		t.lst = nil
	}
	onError := t.lstError
	t.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}
