// Package network implements the TLS stream used for the chat session and
// the socket helpers shared by the local API listener.
package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/telemetry"
)

const (
	// DefaultChatPort is the TLS port of the chat service.
	DefaultChatPort = 5223
	// DefaultConnectTimeout bounds the TCP connect.
	DefaultConnectTimeout = 10 * time.Second

	readBufferSize   = 16384
	readUntilSlice   = 500 * time.Millisecond
	writeTimeout     = 5 * time.Second
	timeoutPreviewSz = 500
)

// DialConfig controls how the chat stream is opened.
type DialConfig struct {
	Port           int
	ConnectTimeout time.Duration
	// InsecureSkipVerify disables server certificate validation.
	InsecureSkipVerify bool
}

// Stream is a TLS-wrapped chat connection. Reads and writes are not
// synchronized; the owning session serializes access.
type Stream struct {
	conn   net.Conn
	logger zerolog.Logger

	mu          sync.Mutex
	connectedAt time.Time
	closed      bool
}

// Dial resolves host:port, connects with a timeout and performs the TLS
// handshake with SNI set to host.
func Dial(ctx context.Context, host string, cfg DialConfig) (*Stream, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultChatPort
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	})

	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}

	log.Debug().
		Str("addr", addr).
		Bool("insecure", cfg.InsecureSkipVerify).
		Uint16("tls_version", tlsConn.ConnectionState().Version).
		Msg("chat stream established")

	return NewStream(tlsConn), nil
}

// NewStream wraps an established connection.
func NewStream(conn net.Conn) *Stream {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Stream{
		conn:        conn,
		connectedAt: time.Now(),
		logger:      log.With().Str("component", "stream").Str("remote", remote).Logger(),
	}
}

// Write sends text in full under a write deadline.
func (s *Stream) Write(text string) error {
	if s.IsClosed() {
		return ErrConnectionClosed
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := io.WriteString(s.conn, text)
	telemetry.ObserveStreamBytes(telemetry.DirectionOut, n)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadAvailable returns whatever arrives within timeout. Consecutive reads are
// coalesced until a read comes back short or the deadline passes. Invalid
// UTF-8 is replaced. EOF with nothing buffered yields ErrConnectionClosed.
func (s *Stream) ReadAvailable(timeout time.Duration) (string, error) {
	s.conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, readBufferSize)
	var out bytes.Buffer

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if out.Len() == 0 {
					return "", ErrConnectionClosed
				}
				break
			}
			if isTimeout(err) {
				break
			}
			return "", fmt.Errorf("read: %w", err)
		}
		if n < len(buf) {
			break
		}
	}

	telemetry.ObserveStreamBytes(telemetry.DirectionIn, out.Len())
	return strings.ToValidUTF8(out.String(), "\uFFFD"), nil
}

// ReadUntil accumulates reads in 500ms slices until the buffer contains
// marker or timeout elapses.
func (s *Stream) ReadUntil(marker string, timeout time.Duration) (string, error) {
	start := time.Now()
	buf := make([]byte, readBufferSize)
	var out bytes.Buffer

	for time.Since(start) < timeout {
		s.conn.SetReadDeadline(time.Now().Add(readUntilSlice))
		n, err := s.conn.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			telemetry.ObserveStreamBytes(telemetry.DirectionIn, n)
			if bytes.Contains(out.Bytes(), []byte(marker)) {
				return strings.ToValidUTF8(out.String(), "\uFFFD"), nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("waiting for %q: %w", marker, ErrConnectionClosed)
			}
			if isTimeout(err) {
				continue
			}
			return "", fmt.Errorf("read: %w", err)
		}
	}

	got := strings.ToValidUTF8(out.String(), "\uFFFD")
	if strings.Contains(got, marker) {
		return got, nil
	}
	return "", fmt.Errorf("%w %q, got: %s", ErrTimeout, marker, preview(got))
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug().Dur("lifetime", time.Since(s.connectedAt)).Msg("stream closed")
	return s.conn.Close()
}

// IsClosed reports whether Close has been called.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func preview(s string) string {
	if len(s) <= timeoutPreviewSz {
		return s
	}
	return s[:timeoutPreviewSz]
}
