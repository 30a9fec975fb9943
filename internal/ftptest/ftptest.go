// Package ftptest is a minimal control-connection client for tests that need
// to see exact reply codes, multi-line replies and raw data sockets.
package ftptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Reply is one server reply.
type Reply struct {
	Code int
	// Message is the text of every line without the code prefix.
	Message string
	Lines   []string
}

// Conn is a control connection.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr. It does not read the greeting.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c, r: bufio.NewReader(c), timeout: timeout}, nil
}

// DialGreeting connects and consumes the 220 greeting.
func DialGreeting(addr string, timeout time.Duration) (*Conn, *Reply, error) {
	c, err := Dial(addr, timeout)
	if err != nil {
		return nil, nil, err
	}
	r, err := c.ReadReply()
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, r, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the client side of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send writes one command line.
func (c *Conn) Send(format string, args ...any) error {
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err := fmt.Fprintf(c.conn, format+"\r\n", args...)
	return err
}

// Cmd sends a command and reads its reply.
func (c *Conn) Cmd(format string, args ...any) (*Reply, error) {
	if err := c.Send(format, args...); err != nil {
		return nil, err
	}
	return c.ReadReply()
}

// ReadReply reads one complete reply, single or multi-line.
func (c *Conn) ReadReply() (*Reply, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return ReadReply(c.r)
}

// ReadReply parses a reply from r. A multi-line reply starts with "NNN-" and
// ends at the first line starting with "NNN ".
func ReadReply(r *bufio.Reader) (*Reply, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 {
		return nil, fmt.Errorf("short reply line %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return nil, fmt.Errorf("bad reply code in %q", line)
	}

	reply := &Reply{Code: code, Lines: []string{line}}
	switch line[3] {
	case ' ':
		reply.Message = line[4:]
		return reply, nil
	case '-':
	default:
		return nil, fmt.Errorf("bad reply separator in %q", line)
	}

	prefix := line[:3]
	for {
		next, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		next = strings.TrimRight(next, "\r\n")
		reply.Lines = append(reply.Lines, next)
		if len(next) >= 4 && next[:3] == prefix && next[3] == ' ' {
			break
		}
	}

	text := make([]string, 0, len(reply.Lines))
	for _, l := range reply.Lines {
		if len(l) >= 4 && l[:3] == prefix && (l[3] == ' ' || l[3] == '-') {
			l = l[4:]
		}
		text = append(text, l)
	}
	reply.Message = strings.Join(text, "\n")
	return reply, nil
}

// Login runs USER and, when asked for one, PASS.
func (c *Conn) Login(user, pass string) (*Reply, error) {
	r, err := c.Cmd("USER %s", user)
	if err != nil {
		return nil, err
	}
	if r.Code != 331 {
		return r, nil
	}
	return c.Cmd("PASS %s", pass)
}

// ParsePASV extracts "h1,h2,h3,h4,p1,p2" from a 227 message and returns the
// address it encodes.
func ParsePASV(message string) (string, error) {
	start := strings.IndexByte(message, '(')
	end := strings.LastIndexByte(message, ')')
	if start < 0 || end < start {
		return "", fmt.Errorf("no address in %q", message)
	}
	parts := strings.Split(message[start+1:end], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("want 6 fields in %q", message)
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("bad field %q in %q", p, message)
		}
		nums[i] = n
	}
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	return net.JoinHostPort(host, strconv.Itoa(nums[4]*256+nums[5])), nil
}

// ParseEPSV extracts the port from a 229 "(|||port|)" message.
func ParseEPSV(message string) (int, error) {
	start := strings.Index(message, "(|||")
	if start < 0 {
		return 0, fmt.Errorf("no port in %q", message)
	}
	rest := message[start+4:]
	end := strings.IndexByte(rest, '|')
	if end < 0 {
		return 0, fmt.Errorf("unterminated port in %q", message)
	}
	return strconv.Atoi(rest[:end])
}

// PortArg formats addr as a PORT argument.
func PortArg(addr *net.TCPAddr) string {
	ip := addr.IP.To4()
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], addr.Port/256, addr.Port%256)
}
