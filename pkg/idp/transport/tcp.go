package transport

import (
	"net"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
)

// tcpKeepaliveIdleSeconds / tcpKeepaliveIntervalSeconds tune how fast a
// dead TCP link is noticed, independent of the protocol's own 4000ms node
// timeout (spec §4.4) — a link can look alive at the TCP layer long after
// the node behind it has stopped answering pings, so this is a coarser,
// belt-and-suspenders check at the socket level.
const (
	tcpKeepaliveIdleSeconds     = 5
	tcpKeepaliveIntervalSeconds = 2
	tcpKeepaliveCount           = 3
)

// tuneKeepalive reaches past net.TCPConn's portable KeepAlive API to set
// the Linux-specific idle/interval/count knobs via the raw file descriptor,
// the same technique used for socket-level conntrack tuning: obtain the fd
// with netfd, then setsockopt through x/sys/unix.
func tuneKeepalive(conn *net.TCPConn) error {
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(tcpKeepaliveIntervalSeconds * time.Second)

	fd, err := netfd.GetFdFromConn(conn)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, tcpKeepaliveIdleSeconds); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, tcpKeepaliveIntervalSeconds); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, tcpKeepaliveCount)
}

// TCPStream adapts a net.Conn to the non-blocking idp.Stream contract: a
// background goroutine continuously reads into an internal buffer, so
// Read never blocks the parser's cooperative tick.
type TCPStream struct {
	conn net.Conn

	mu     sync.Mutex
	buf    []byte
	closed bool
	err    error
}

// NewTCPStream wraps conn and starts its background reader.
func NewTCPStream(conn net.Conn) *TCPStream {
	s := &TCPStream{conn: conn}
	go s.readLoop()
	return s
}

func (s *TCPStream) readLoop() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, chunk[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *TCPStream) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed || len(s.buf) > 0
}

func (s *TCPStream) BytesReceived() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(len(s.buf))
}

func (s *TCPStream) Read(buf []byte) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return 0
	}
	n := copy(buf, s.buf)
	s.buf = s.buf[n:]
	return int32(n)
}

func (s *TCPStream) Write(buf []byte) int32 {
	n, err := s.conn.Write(buf)
	if err != nil {
		return -1
	}
	return int32(n)
}

func (s *TCPStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.Close()
}

// TCPListener accepts inbound adaptor connections, capped at maxConns
// concurrent (spec's expansion: bound an embedded gateway's fan-in the
// same way atlas bounds its REST listener).
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr and wraps the listener with a connection limiter.
func ListenTCP(addr string, maxConns int) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next inbound connection and returns it as a
// StreamAdaptor, already keepalive-tuned.
func (l *TCPListener) Accept() (*StreamAdaptor, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tuneKeepalive(tc)
	}
	return NewStreamAdaptor(NewTCPStream(conn)), nil
}

// Close stops accepting new connections.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// DialTCP connects to addr and returns a ready-to-use StreamAdaptor.
func DialTCP(addr string, timeout time.Duration) (*StreamAdaptor, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tuneKeepalive(tc)
	}
	return NewStreamAdaptor(NewTCPStream(conn)), nil
}
