package routeros

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
)

const (
	DefaultPort    = 8728
	DefaultTimeout = 30 * time.Second

	streamQueueSize = 100
)

type Config struct {
	Address  string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrConfiguration)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: username is required", ErrConfiguration)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrConfiguration)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrConfiguration, c.Port)
	}
	return nil
}

func (c Config) HostPort() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Session is a live, authenticated connection to one device.
type Session interface {
	// Invoke runs a command and waits for its reply.
	Invoke(ctx context.Context, command string, args ...string) (*Reply, error)
	// Listen opens a push subscription (for example "/ppp/active/listen").
	Listen(ctx context.Context, command string, args ...string) (Stream, error)
	// Err returns a non-nil error once the connection is no longer usable.
	Err() error
	Close() error
}

// Stream delivers records pushed by the device until it is closed or fails.
type Stream interface {
	Records() <-chan Record
	// Err is valid after Records is closed; nil when closed by the caller.
	Err() error
	Close() error
}

// Dialer opens sessions. Dial is the production implementation.
type Dialer func(ctx context.Context, cfg Config) (Session, error)

// Dial connects and logs in, racing the attempt against the configured timeout.
func Dial(ctx context.Context, cfg Config) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.timeout()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type dialResult struct {
		client *routeros.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		c, err := routeros.DialContext(dialCtx, cfg.HostPort(), cfg.Username, cfg.Password)
		resultCh <- dialResult{client: c, err: err}
	}()

	var res dialResult
	select {
	case res = <-resultCh:
	case <-dialCtx.Done():
		go func() {
			// The login may still complete after we gave up on it.
			if late := <-resultCh; late.client != nil {
				late.client.Close()
			}
		}()
		return nil, fmt.Errorf("%w: connect to %s after %s", ErrTimeout, cfg.HostPort(), timeout)
	}

	if res.err != nil {
		var devErr *routeros.DeviceError
		if errors.As(res.err, &devErr) {
			return nil, fmt.Errorf("%w: login to %s refused: %v", ErrConfiguration, cfg.HostPort(), res.err)
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connect to %s after %s", ErrTimeout, cfg.HostPort(), timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, cfg.HostPort(), res.err)
	}

	s := &session{
		client:  res.client,
		address: cfg.HostPort(),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go s.watch(res.client.Async())

	slog.Debug("Device session opened", "address", s.address)
	return s, nil
}

type session struct {
	client  *routeros.Client
	address string
	timeout time.Duration

	mu        sync.Mutex
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) watch(asyncErr <-chan error) {
	err, ok := <-asyncErr
	if !ok || err == nil {
		err = ErrClosed
	} else {
		err = fmt.Errorf("%w: %s: %v", ErrConnection, s.address, err)
	}
	s.fail(err)
}

func (s *session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.fail(ErrClosed)
	s.client.Close()
	slog.Debug("Device session closed", "address", s.address)
	return nil
}

func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *session) Invoke(ctx context.Context, command string, args ...string) (*Reply, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	type runResult struct {
		reply *routeros.Reply
		err   error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		r, err := s.client.RunArgs(append([]string{command}, args...))
		resultCh <- runResult{reply: r, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, classify(command, res.err)
		}
		return toReply(res.reply), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrTimeout, command)
	case <-s.done:
		return nil, s.Err()
	}
}

func (s *session) Listen(ctx context.Context, command string, args ...string) (Stream, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	l, err := s.client.ListenArgsQueue(append([]string{command}, args...), streamQueueSize)
	if err != nil {
		return nil, classify(command, err)
	}

	st := &listenStream{
		reply:   l,
		command: command,
		out:     make(chan Record, streamQueueSize),
		stop:    make(chan struct{}),
	}
	go st.pump(ctx, s)
	return st, nil
}

func toReply(r *routeros.Reply) *Reply {
	out := &Reply{Records: make([]Record, 0, len(r.Re))}
	for _, sen := range r.Re {
		out.Records = append(out.Records, sentenceRecord(sen))
	}
	if r.Done != nil {
		out.Ret = r.Done.Map["ret"]
	}
	return out
}

func sentenceRecord(sen *proto.Sentence) Record {
	return Record(sen.Map).Clone()
}

type listenStream struct {
	reply   *routeros.ListenReply
	command string
	out     chan Record

	mu       sync.Mutex
	err      error
	stop     chan struct{}
	stopOnce sync.Once
}

func (st *listenStream) pump(ctx context.Context, s *session) {
	defer close(st.out)

	for {
		select {
		case sen, ok := <-st.reply.Chan():
			if !ok {
				if st.stopped() {
					return
				}
				err := s.Err()
				if err == nil {
					err = fmt.Errorf("%w: %s: stream ended by device", ErrConnection, st.command)
				}
				st.setErr(err)
				return
			}
			if sen == nil {
				continue
			}
			select {
			case st.out <- sentenceRecord(sen):
			case <-st.stop:
				return
			case <-ctx.Done():
				st.setErr(ctx.Err())
				st.cancel()
				return
			}
		case <-st.stop:
			return
		case <-ctx.Done():
			st.setErr(ctx.Err())
			st.cancel()
			return
		case <-s.done:
			st.setErr(s.Err())
			return
		}
	}
}

func (st *listenStream) setErr(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err == nil {
		st.err = err
	}
}

func (st *listenStream) stopped() bool {
	select {
	case <-st.stop:
		return true
	default:
		return false
	}
}

func (st *listenStream) cancel() {
	if _, err := st.reply.Cancel(); err != nil {
		slog.Debug("Failed to cancel device subscription", "command", st.command, "error", err)
	}
}

func (st *listenStream) Records() <-chan Record {
	return st.out
}

func (st *listenStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *listenStream) Close() error {
	st.stopOnce.Do(func() {
		close(st.stop)
		st.cancel()
	})
	return nil
}
