package sse

import (
	"bytes"
	"errors"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// drain collects every frame until Next reports exhaustion.
func drain(r *TeeReader) []Frame {
	var frames []Frame
	for {
		f, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		if f == nil {
			return frames
		}
		frames = append(frames, *f)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("client went away")
}

var _ = Describe("TeeReader", func() {
	var dst *bytes.Buffer

	BeforeEach(func() {
		dst = &bytes.Buffer{}
	})

	Describe("Next", func() {
		It("returns data frames and the terminal marker", func() {
			src := strings.NewReader("data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\n")
			r := NewTeeReader(src, dst)

			Expect(drain(r)).To(Equal([]Frame{
				{Kind: FrameData, Payload: `{"a":1}`},
				{Kind: FrameData, Payload: `{"b":2}`},
				{Kind: FrameDone},
			}))
		})

		It("skips comments, blanks and unknown fields", func() {
			src := strings.NewReader(": ping\n\nevent: message\nid: 7\nretry: 100\ndata: x\n\n")
			r := NewTeeReader(src, dst)

			Expect(drain(r)).To(Equal([]Frame{{Kind: FrameData, Payload: "x"}}))
		})

		It("returns nil, nil on an empty stream", func() {
			r := NewTeeReader(strings.NewReader(""), dst)

			f, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(BeNil())
		})

		It("keeps returning frames after the terminal marker", func() {
			src := strings.NewReader("data: [DONE]\ndata: late\n")
			r := NewTeeReader(src, dst)

			Expect(drain(r)).To(Equal([]Frame{
				{Kind: FrameDone},
				{Kind: FrameData, Payload: "late"},
			}))
		})

		It("does not return an unterminated final line", func() {
			r := NewTeeReader(strings.NewReader("data: a\ndata: b"), dst)

			Expect(drain(r)).To(Equal([]Frame{{Kind: FrameData, Payload: "a"}}))
			Expect(r.Residual()).To(Equal("data: b"))
		})

		It("reassembles frames from a one byte reader", func() {
			stream := "data: {\"content\":\"日本\"}\n\ndata: [DONE]\n\n"
			r := NewTeeReader(iotest.OneByteReader(strings.NewReader(stream)), dst)

			Expect(drain(r)).To(Equal([]Frame{
				{Kind: FrameData, Payload: `{"content":"日本"}`},
				{Kind: FrameDone},
			}))
			Expect(dst.String()).To(Equal(stream))
		})
	})

	Describe("tee behavior", func() {
		It("writes the exact bytes to the destination", func() {
			stream := ": keep-alive\r\n\r\ndata: {\"x\":1}\r\n\r\ndata: [DONE]\r\n\r\ntrailing"
			r := NewTeeReader(strings.NewReader(stream), dst)
			drain(r)

			Expect(dst.String()).To(Equal(stream))
		})

		It("surfaces destination write errors", func() {
			r := NewTeeReader(strings.NewReader("data: x\n\n"), failingWriter{})

			_, err := r.Next()
			Expect(err).To(MatchError(ContainSubstring("client went away")))
		})

		It("surfaces source read errors", func() {
			src := iotest.TimeoutReader(strings.NewReader("data: first\n\ndata: second\n\n"))
			r := NewTeeReader(iotest.OneByteReader(src), dst)

			var err error
			for err == nil {
				_, err = r.Next()
			}
			Expect(err).To(MatchError(iotest.ErrTimeout))
		})
	})
})
