package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// DefaultAgentEndpoint is where a CloudWatch agent listens for EMF by default.
const DefaultAgentEndpoint = "tcp://127.0.0.1:25888"

const agentDialTimeout = 2 * time.Second

// AgentSink streams EMF documents to a collector over TCP or UDP, one document
// per line. The connection is dialed on first use and redialed after a write
// failure.
type AgentSink struct {
	network string
	address string

	// sem is a one-slot lock guarding conn and closed; acquiring it
	// honours the caller's ctx.
	sem    chan struct{}
	conn   net.Conn
	closed bool
	dialer net.Dialer
}

// NewAgentSink parses endpoint ("tcp://host:port" or "udp://host:port").
func NewAgentSink(endpoint string) (*AgentSink, error) {
	if endpoint == "" {
		endpoint = DefaultAgentEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid agent endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "tcp", "udp":
	default:
		return nil, fmt.Errorf("invalid agent endpoint %q: scheme must be tcp or udp", endpoint)
	}
	if u.Host == "" || u.Port() == "" {
		return nil, fmt.Errorf("invalid agent endpoint %q: host:port required", endpoint)
	}
	return &AgentSink{
		network: u.Scheme,
		address: u.Host,
		sem:     make(chan struct{}, 1),
		dialer:  net.Dialer{Timeout: agentDialTimeout},
	}, nil
}

// Address returns the network and address the sink sends to.
func (s *AgentSink) Address() (network, address string) {
	return s.network, s.address
}

func (s *AgentSink) NewLogger() MetricsLogger {
	return newRecorder(s.deliver)
}

func (s *AgentSink) deliver(ctx context.Context, rec *Record) error {
	doc, err := EncodeEMF(rec)
	if err != nil {
		return err
	}
	doc = append(doc, '\n')

	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	if s.closed {
		return ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(doc); err != nil {
		// drop the connection; the next flush redials
		_ = conn.Close()
		if s.conn == conn {
			s.conn = nil
		}
		return fmt.Errorf("write %s://%s: %w", s.network, s.address, err)
	}
	return nil
}

// connection returns the shared connection, dialing it outside the lock when
// there is none. When two flushes dial at once the first to store wins.
func (s *AgentSink) connection(ctx context.Context) (net.Conn, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	conn, closed := s.conn, s.closed
	s.unlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil {
		return conn, nil
	}

	conn, err := s.dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", s.network, s.address, err)
	}
	if err := s.lock(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer s.unlock()
	switch {
	case s.closed:
		_ = conn.Close()
		return nil, ErrClosed
	case s.conn != nil:
		_ = conn.Close()
	default:
		s.conn = conn
	}
	return s.conn, nil
}

func (s *AgentSink) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AgentSink) unlock() { <-s.sem }

func (s *AgentSink) Close() error {
	s.sem <- struct{}{}
	defer s.unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
