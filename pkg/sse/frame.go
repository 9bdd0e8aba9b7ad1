// Package sse decodes the line-framed Server-Sent Events stream returned by
// the matchbot chat function. It splits arbitrarily chunked bytes into
// complete lines, classifies each line, and offers a tee reader for relaying
// a stream verbatim while inspecting it.
//
// Only the subset of SSE the chat function emits is understood: "data: "
// lines carrying JSON completion chunks and a final "data: [DONE]".
//
// Event stream format:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import "strings"

const (
	// DataPrefix introduces a payload line.
	DataPrefix = "data: "

	// CommentPrefix introduces a comment or keep-alive line.
	CommentPrefix = ":"

	// DoneMarker is the payload signalling the end of the stream.
	DoneMarker = "[DONE]"
)

// FrameKind is the classification of a single complete line.
type FrameKind int

const (
	// FrameSkip lines carry nothing for the consumer: blanks, comments,
	// unknown line types and empty payloads.
	FrameSkip FrameKind = iota

	// FrameData lines carry a payload.
	FrameData

	// FrameDone is the terminal marker.
	FrameDone
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameDone:
		return "done"
	default:
		return "skip"
	}
}

// Frame is a classified line.
type Frame struct {
	Kind FrameKind

	// Payload is the whitespace-trimmed text after DataPrefix. Only set for
	// FrameData.
	Payload string
}

// Classify maps one complete line (terminator already removed) to a Frame.
func Classify(line string) Frame {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, CommentPrefix) {
		return Frame{Kind: FrameSkip}
	}

	rest, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return Frame{Kind: FrameSkip}
	}

	payload := strings.TrimSpace(rest)
	switch payload {
	case "":
		return Frame{Kind: FrameSkip}
	case DoneMarker:
		return Frame{Kind: FrameDone}
	default:
		return Frame{Kind: FrameData, Payload: payload}
	}
}
