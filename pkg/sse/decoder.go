package sse

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextDecoder converts a byte stream to UTF-8 text chunk by chunk. A
// multi-byte sequence cut by a chunk boundary is held until the next chunk
// completes it. Invalid bytes decode to U+FFFD.
type TextDecoder struct {
	t       transform.Transformer
	pending []byte
	buf     []byte
}

// NewTextDecoder returns a streaming UTF-8 decoder.
func NewTextDecoder() *TextDecoder {
	return &TextDecoder{
		t:   unicode.UTF8.NewDecoder(),
		buf: make([]byte, 4096),
	}
}

// Decode returns the text made available by chunk.
func (d *TextDecoder) Decode(chunk []byte) string {
	d.pending = append(d.pending, chunk...)
	return d.run(false)
}

// Flush returns whatever is still pending, replacing an incomplete trailing
// sequence with U+FFFD, and resets the decoder.
func (d *TextDecoder) Flush() string {
	out := d.run(true)
	d.pending = nil
	d.t.Reset()
	return out
}

func (d *TextDecoder) run(atEOF bool) string {
	var out strings.Builder
	for len(d.pending) > 0 {
		nDst, nSrc, err := d.t.Transform(d.buf, d.pending, atEOF)
		out.Write(d.buf[:nDst])
		d.pending = d.pending[nSrc:]
		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		break
	}
	if len(d.pending) == 0 {
		d.pending = nil
	} else {
		d.pending = append([]byte(nil), d.pending...)
	}
	return out.String()
}

// Decoder turns raw body chunks into complete lines. One Decoder serves one
// exchange.
type Decoder struct {
	text     *TextDecoder
	residual string
}

// NewDecoder returns a Decoder with an empty residual.
func NewDecoder() *Decoder {
	return &Decoder{text: NewTextDecoder()}
}

// Feed decodes chunk and returns the complete lines it finished, in order.
func (d *Decoder) Feed(chunk []byte) []string {
	lines, rest := SplitLines(d.residual, d.text.Decode(chunk))
	d.residual = rest
	return lines
}

// Flush is called once the body is exhausted. It returns any line completed
// by the decoder's final bytes. An unterminated residual is left in place and
// never promoted to a line.
func (d *Decoder) Flush() []string {
	tail := d.text.Flush()
	if tail == "" {
		return nil
	}
	lines, rest := SplitLines(d.residual, tail)
	d.residual = rest
	return lines
}

// Residual is the text received after the last line terminator.
func (d *Decoder) Residual() string {
	return d.residual
}
