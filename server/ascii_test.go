package server

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestCRLFEncoder(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a\nb\n", "a\r\nb\r\n"},
		{"a\r\nb", "a\r\nb"},
		{"\n\n", "\r\n\r\n"},
		{"lone\rcr", "lone\rcr"},
		{"no newline", "no newline"},
	}
	for _, tt := range tests {
		for name, wrap := range map[string]func(io.Reader) io.Reader{
			"whole":    func(r io.Reader) io.Reader { return r },
			"one byte": iotest.OneByteReader,
		} {
			got, err := io.ReadAll(newCRLFEncoder(wrap(bytes.NewReader([]byte(tt.in)))))
			if err != nil {
				t.Fatalf("%q (%s): %v", tt.in, name, err)
			}
			if string(got) != tt.want {
				t.Errorf("encode %q (%s) = %q, want %q", tt.in, name, got, tt.want)
			}
		}
	}
}

func TestCRLFDecoder(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a\r\nb\r\n", "a\nb\n"},
		{"a\nb", "a\nb"},
		{"lone\rcr", "lone\rcr"},
		{"ends with cr\r", "ends with cr\r"},
		{"\r\r\n", "\r\n"},
	}
	for _, tt := range tests {
		for name, wrap := range map[string]func(io.Reader) io.Reader{
			"whole":    func(r io.Reader) io.Reader { return r },
			"one byte": iotest.OneByteReader,
			"data+EOF": iotest.DataErrReader,
		} {
			got, err := io.ReadAll(newCRLFDecoder(wrap(bytes.NewReader([]byte(tt.in)))))
			if err != nil {
				t.Fatalf("%q (%s): %v", tt.in, name, err)
			}
			if string(got) != tt.want {
				t.Errorf("decode %q (%s) = %q, want %q", tt.in, name, got, tt.want)
			}
		}
	}
}

func TestCRLFRoundTrip(t *testing.T) {
	text := "line one\nline two\n\nlast"
	wire, err := io.ReadAll(newCRLFEncoder(bytes.NewReader([]byte(text))))
	if err != nil {
		t.Fatal(err)
	}
	back, err := io.ReadAll(newCRLFDecoder(bytes.NewReader(wire)))
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != text {
		t.Errorf("round trip = %q, want %q", back, text)
	}
}
