package streams

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wot-js/runtime/internal/core"
)

// TTY modes.
const (
	TTYModeNormal = 0
	TTYModeRaw    = 1
)

// TTYStream wraps a terminal file descriptor in the stream contract.
type TTYStream struct {
	*Stream
	file  *os.File
	fd    int
	saved *unix.Termios
}

// NewTTY adopts an existing descriptor (typically 0, 1 or 2).
func NewTTY(rt *core.Runtime, fd int) (*TTYStream, error) {
	file := os.NewFile(uintptr(fd), fmt.Sprintf("tty-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	return NewTTYFromFile(rt, file)
}

// NewTTYFromFile wraps an already-open character device, e.g. a serial
// port configured by the uart module.
func NewTTYFromFile(rt *core.Runtime, file *os.File) (*TTYStream, error) {
	if file == nil {
		return nil, fmt.Errorf("file required")
	}
	s := &TTYStream{Stream: newStream(rt, KindTTY), file: file, fd: int(file.Fd())}
	s.setConn(&fileConn{file: file})
	return s, nil
}

// SetMode switches between normal and raw mode, saving the original
// termios for restore on the first switch away from normal.
func (s *TTYStream) SetMode(mode int) error {
	tio, err := unix.IoctlGetTermios(s.fd, ioctlGetTermios)
	if err != nil {
		return core.WrapError(err, "tcgetattr", "")
	}
	if s.saved == nil {
		saved := *tio
		s.saved = &saved
	}
	switch mode {
	case TTYModeRaw:
		tio.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
		tio.Oflag &^= unix.OPOST
		tio.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
		tio.Cflag |= unix.CS8
		tio.Cc[unix.VMIN] = 1
		tio.Cc[unix.VTIME] = 0
	case TTYModeNormal:
		if s.saved != nil {
			*tio = *s.saved
		}
	default:
		return fmt.Errorf("unknown tty mode %d", mode)
	}
	if err := unix.IoctlSetTermios(s.fd, ioctlSetTermios, tio); err != nil {
		return core.WrapError(err, "tcsetattr", "")
	}
	return nil
}

// WinSize reports the terminal dimensions.
func (s *TTYStream) WinSize() (int, int, error) {
	ws, err := unix.IoctlGetWinsize(s.fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, core.WrapError(err, "tiocgwinsz", "")
	}
	return int(ws.Col), int(ws.Row), nil
}

// fileConn adapts an os.File to the net.Conn surface the stream core
// drives. Deadlines work only when the file is registered with the Go
// runtime poller (a device opened by path, or a descriptor already in
// non-blocking mode); otherwise SetWriteDeadline fails and the stream
// core skips the try-write fast path.
type fileConn struct {
	file *os.File
}

func (c *fileConn) Read(p []byte) (int, error)  { return c.file.Read(p) }
func (c *fileConn) Write(p []byte) (int, error) { return c.file.Write(p) }
func (c *fileConn) Close() error                { return c.file.Close() }

func (c *fileConn) LocalAddr() net.Addr  { return fileAddr(c.file.Name()) }
func (c *fileConn) RemoteAddr() net.Addr { return fileAddr(c.file.Name()) }

func (c *fileConn) SetDeadline(t time.Time) error      { return c.file.SetDeadline(t) }
func (c *fileConn) SetReadDeadline(t time.Time) error  { return c.file.SetReadDeadline(t) }
func (c *fileConn) SetWriteDeadline(t time.Time) error { return c.file.SetWriteDeadline(t) }

type fileAddr string

func (a fileAddr) Network() string { return "file" }
func (a fileAddr) String() string  { return string(a) }
