package server

import "io"

// lineTranslator rewrites line terminators of a byte stream as it is read.
// step may hold back the last byte of a chunk until it sees the next one;
// eof tells it to flush.
type lineTranslator struct {
	src  io.Reader
	in   []byte
	out  []byte
	next []byte // unread part of out
	err  error
	step func(dst, chunk []byte, eof bool) []byte
}

func (t *lineTranslator) Read(p []byte) (int, error) {
	for len(t.next) == 0 {
		if t.err != nil {
			return 0, t.err
		}
		n, err := t.src.Read(t.in)
		t.out = t.step(t.out[:0], t.in[:n], err == io.EOF)
		t.next = t.out
		t.err = err
	}
	n := copy(p, t.next)
	t.next = t.next[n:]
	return n, nil
}

// newCRLFEncoder converts bare LF to CRLF for sending a local text file in
// ASCII mode. Existing CRLF pairs pass through untouched.
func newCRLFEncoder(src io.Reader) io.Reader {
	prevCR := false
	return &lineTranslator{
		src: src,
		in:  make([]byte, 4096),
		step: func(dst, chunk []byte, _ bool) []byte {
			for _, b := range chunk {
				if b == '\n' && !prevCR {
					dst = append(dst, '\r')
				}
				dst = append(dst, b)
				prevCR = b == '\r'
			}
			return dst
		},
	}
}

// newCRLFDecoder converts CRLF from the wire to LF. A CR not followed by LF
// is kept.
func newCRLFDecoder(src io.Reader) io.Reader {
	heldCR := false
	return &lineTranslator{
		src: src,
		in:  make([]byte, 4096),
		step: func(dst, chunk []byte, eof bool) []byte {
			for _, b := range chunk {
				if heldCR {
					heldCR = false
					if b == '\n' {
						dst = append(dst, '\n')
						continue
					}
					dst = append(dst, '\r')
				}
				if b == '\r' {
					heldCR = true
					continue
				}
				dst = append(dst, b)
			}
			if eof && heldCR {
				heldCR = false
				dst = append(dst, '\r')
			}
			return dst
		},
	}
}
