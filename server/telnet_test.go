package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadCommandLine(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "Normal command",
			input:    []byte("USER anonymous\r\n"),
			expected: "USER anonymous",
		},
		{
			name:     "Bare LF",
			input:    []byte("NOOP\n"),
			expected: "NOOP",
		},
		{
			name:     "IAC WILL",
			input:    []byte{telnetIAC, telnetWILL, 0x01, 'A', 'B', 'C', '\n'},
			expected: "ABC",
		},
		{
			name:     "IAC WONT",
			input:    []byte{telnetIAC, telnetWONT, 0x02, 'D', 'E', 'F', '\n'},
			expected: "DEF",
		},
		{
			name:     "IAC DO",
			input:    []byte{telnetIAC, telnetDO, 0x03, 'G', 'H', 'I', '\n'},
			expected: "GHI",
		},
		{
			name:     "IAC DONT",
			input:    []byte{telnetIAC, telnetDONT, 0x04, 'J', 'K', 'L', '\n'},
			expected: "JKL",
		},
		{
			name:     "IAC Escaping",
			input:    []byte{'X', telnetIAC, telnetIAC, 'Y', '\r', '\n'},
			expected: "X\xffY",
		},
		{
			name:     "Interrupt process before ABOR",
			input:    []byte{telnetIAC, 0xF4, telnetIAC, 0xF2, 'A', 'B', 'O', 'R', '\r', '\n'},
			expected: "ABOR",
		},
		{
			name:     "Inner CR kept",
			input:    []byte("CWD a\rb\r\n"),
			expected: "CWD a\rb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCommandLine(bufio.NewReader(bytes.NewReader(tt.input)), MaxCommandLength)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestReadCommandLineTooLong(t *testing.T) {
	input := strings.Repeat("A", 50) + "\r\nNOOP\r\n"
	r := bufio.NewReader(strings.NewReader(input))

	if _, err := readCommandLine(r, 10); !errors.Is(err, errLineTooLong) {
		t.Fatalf("expected errLineTooLong, got %v", err)
	}
	// The rest of the long line was consumed.
	got, err := readCommandLine(r, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "NOOP" {
		t.Errorf("expected NOOP, got %q", got)
	}
}

func TestReadCommandLineEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("NOOP"))
	if _, err := readCommandLine(r, MaxCommandLength); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
