// ABOUTME: Length-prefixed message framing over an accepted net.Conn
// ABOUTME: Word (uint16) or DWord (uint32) little-endian prefixes with serialized reads and writes

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrMessageTooLarge is returned when a frame exceeds the connection's size limit.
var ErrMessageTooLarge = errors.New("message too large")

// DefaultMaxMessageSize caps DWord frames when no explicit limit is configured.
const DefaultMaxMessageSize = 1 << 20

// SizeType selects the width of the length prefix in front of every message.
type SizeType int

const (
	// SizeWord prefixes each message with a little-endian uint16 length.
	SizeWord SizeType = iota
	// SizeDWord prefixes each message with a little-endian uint32 length.
	SizeDWord
)

// ParseSizeType maps a config value ("word", "dword") to a SizeType.
func ParseSizeType(s string) (SizeType, error) {
	switch strings.ToLower(s) {
	case "", "word":
		return SizeWord, nil
	case "dword":
		return SizeDWord, nil
	default:
		return 0, fmt.Errorf("unknown frame size type %q", s)
	}
}

func (t SizeType) String() string {
	if t == SizeDWord {
		return "dword"
	}
	return "word"
}

// HeaderLen returns the length prefix size in bytes.
func (t SizeType) HeaderLen() int {
	if t == SizeDWord {
		return 4
	}
	return 2
}

// Limit returns the largest payload the prefix can describe.
func (t SizeType) Limit() uint64 {
	if t == SizeDWord {
		return math.MaxUint32
	}
	return math.MaxUint16
}

// Options configures framing for a Conn.
type Options struct {
	SizeType SizeType

	// MaxMessageSize bounds the payload of a single frame. Zero selects the
	// prefix limit for Word frames and DefaultMaxMessageSize for DWord frames.
	MaxMessageSize int
}

func (o Options) maxMessageSize() int {
	limit := o.SizeType.Limit()
	if o.MaxMessageSize <= 0 {
		if o.SizeType == SizeDWord {
			return DefaultMaxMessageSize
		}
		return int(limit)
	}
	if uint64(o.MaxMessageSize) > limit {
		return int(limit)
	}
	return o.MaxMessageSize
}

// Conn is an established, message-framed byte stream between the gateway and a client.
// ReadMessage and WriteMessage may be called from different goroutines.
type Conn struct {
	conn    net.Conn
	size    SizeType
	maxSize int

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps conn with length-prefixed framing.
func NewConn(conn net.Conn, opts Options) *Conn {
	return &Conn{
		conn:    conn,
		size:    opts.SizeType,
		maxSize: opts.maxMessageSize(),
	}
}

// ReadMessage blocks until one complete frame has been read and returns its payload.
func (c *Conn) ReadMessage() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	header := make([]byte, c.size.HeaderLen())
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}

	var length uint64
	if c.size == SizeDWord {
		length = uint64(binary.LittleEndian.Uint32(header))
	} else {
		length = uint64(binary.LittleEndian.Uint16(header))
	}
	// Compare before converting; a dword length can overflow a 32-bit int.
	if length > uint64(c.maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLarge, length, c.maxSize)
	}
	n := int(length)

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, fmt.Errorf("reading %d byte payload: %w", n, err)
	}
	return payload, nil
}

// WriteMessage sends payload as a single frame.
func (c *Conn) WriteMessage(payload []byte) error {
	if len(payload) > c.maxSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLarge, len(payload), c.maxSize)
	}

	hl := c.size.HeaderLen()
	buf := make([]byte, hl+len(payload))
	if c.size == SizeDWord {
		binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	} else {
		binary.LittleEndian.PutUint16(buf, uint16(len(payload)))
	}
	copy(buf[hl:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

// SetReadDeadline sets the deadline for pending and future reads.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SizeType returns the framing prefix width.
func (c *Conn) SizeType() SizeType {
	return c.size
}

// Close closes the underlying connection. It is safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
