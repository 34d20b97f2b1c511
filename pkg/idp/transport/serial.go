//go:build linux

package transport

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// baudToTermios maps the handful of baud rates embedded nodes in this
// protocol's domain typically use to their termios constant.
var baudToTermios = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// SerialStream is an idp.Stream over a raw termios serial device: opened
// in raw mode (no line discipline, no echo, no signal generation) since
// the wire carries binary framed packets, not line-oriented text.
type SerialStream struct {
	f *os.File

	mu     sync.Mutex
	closed bool
}

// OpenSerial opens path (e.g. "/dev/ttyUSB0") at baud, configuring the
// termios for raw 8N1 binary transport.
func OpenSerial(path string, baud int) (*SerialStream, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, err
	}

	rate, ok := baudToTermios[baud]
	if !ok {
		rate = unix.B115200
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	unix.CfsetispeedTermios(t, rate)
	unix.CfsetospeedTermios(t, rate)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, err
	}
	return &SerialStream{f: f}, nil
}

func (s *SerialStream) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// BytesReceived is unknown for a raw character device without a dedicated
// read buffer of our own; -1 signals "unknown" per the Stream contract.
func (s *SerialStream) BytesReceived() int32 { return -1 }

func (s *SerialStream) Read(buf []byte) int32 {
	n, err := s.f.Read(buf)
	if err != nil {
		if n == 0 {
			return 0
		}
	}
	return int32(n)
}

func (s *SerialStream) Write(buf []byte) int32 {
	n, err := s.f.Write(buf)
	if err != nil && n == 0 {
		return -1
	}
	return int32(n)
}

func (s *SerialStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.f.Close()
}
