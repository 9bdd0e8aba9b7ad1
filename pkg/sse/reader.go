package sse

import (
	"errors"
	"io"
)

const readSize = 4096

// TeeReader reads frames from a source io.Reader while simultaneously
// writing all raw bytes verbatim to a destination io.Writer.
// This enables "tee" shaped reading where TeeReader.Next returns the
// Frame for inspection while the bytes flow on to a separate destination.
//
// ┌──────────────────┐
// │ source io.Reader │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐   ┌───────────────────────┐
// │ TeeReader.Next() │──▶│ destination io.Writer │
// └──────────────────┘   └───────────────────────┘
// │
// ▼
// ┌──────────────────┐
// │      Frame       │
// └──────────────────┘
//
// Bytes are written to the destination exactly as they were read, chunk by
// chunk, before the frames they contain are returned.
type TeeReader struct {
	src  io.Reader
	dest io.Writer
	dec  *Decoder
	buf  []byte

	// lines holds complete lines not yet handed out by Next.
	lines []string
	eof   bool
}

// NewTeeReader returns a TeeReader that decodes frames from src and writes
// all raw bytes through to dest. The dest writer typically backs an io.Pipe
// connected to the downstream HTTP response.
func NewTeeReader(src io.Reader, dest io.Writer) *TeeReader {
	return &TeeReader{
		src:  src,
		dest: dest,
		dec:  NewDecoder(),
		buf:  make([]byte, readSize),
	}
}

// Next returns the next FrameData or FrameDone frame. FrameSkip lines are
// consumed silently. Next returns nil, nil when the source is exhausted; an
// unterminated final line is not returned.
func (r *TeeReader) Next() (*Frame, error) {
	for {
		for len(r.lines) > 0 {
			line := r.lines[0]
			r.lines = r.lines[1:]
			if f := Classify(line); f.Kind != FrameSkip {
				return &f, nil
			}
		}

		if r.eof {
			return nil, nil
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			if _, werr := r.dest.Write(r.buf[:n]); werr != nil {
				return nil, werr
			}
			r.lines = append(r.lines, r.dec.Feed(r.buf[:n])...)
		}

		if errors.Is(err, io.EOF) {
			r.eof = true
			r.lines = append(r.lines, r.dec.Flush()...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// Residual reports the unterminated text seen after the last line break.
// It is only meaningful once Next has returned nil, nil.
func (r *TeeReader) Residual() string {
	return r.dec.Residual()
}
