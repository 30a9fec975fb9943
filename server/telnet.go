package server

import (
	"bufio"
	"errors"
	"strings"
)

const (
	telnetIAC  = 0xFF
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

var errLineTooLong = errors.New("command line too long")

// readCommandLine reads one control line, dropping Telnet IAC sequences and
// the line terminator. An overlong line is consumed up to its LF and reported
// with errLineTooLong so the next read starts on a fresh command.
func readCommandLine(r *bufio.Reader, max int) (string, error) {
	var (
		sb       strings.Builder
		overflow bool
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}

		switch {
		case b == telnetIAC:
			op, err := r.ReadByte()
			if err != nil {
				return "", err
			}
			switch op {
			case telnetIAC:
				// Escaped 0xFF is data.
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				if _, err := r.ReadByte(); err != nil {
					return "", err
				}
				continue
			default:
				continue
			}
		case b == '\n':
			if overflow {
				return "", errLineTooLong
			}
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}

		if sb.Len() >= max {
			overflow = true
			continue
		}
		sb.WriteByte(b)
	}
}
