package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chat-orchestrator/internal/domain"
)

// streamEvent is one SSE data payload of the chat stream.
type streamEvent struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

const (
	eventDelta = "delta"
	eventDone  = "done"
	eventError = "error"
)

// StreamError is an error event sent by the backend inside an open stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "backend: stream error: " + e.Message
}

var errStreamTruncated = errors.New("backend: stream ended before completion")

// SendMessage posts one user turn and invokes onDelta for every streamed
// fragment, in order, before returning the final conversation id.
func (c *Client) SendMessage(ctx context.Context, in domain.ChatRequest, onDelta func(domain.Delta)) (domain.ChatResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/stream", in)
	if err != nil {
		return domain.ChatResult{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	res, err := c.doWith(c.streamingHTTPClient(), req)
	if err != nil {
		return domain.ChatResult{}, fmt.Errorf("backend: send message: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	var result domain.ChatResult
	done := false
	err = readSSE(ctx, res.Body, func(ev streamEvent) error {
		switch ev.Type {
		case eventDelta:
			if ev.ConversationID != "" && result.ConversationID == "" {
				result.ConversationID = ev.ConversationID
			}
			if onDelta != nil {
				onDelta(domain.Delta{Text: ev.Text, ConversationID: ev.ConversationID})
			}
		case eventDone:
			if ev.ConversationID != "" {
				result.ConversationID = ev.ConversationID
			}
			done = true
			return io.EOF
		case eventError:
			return &StreamError{Message: ev.Message}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("backend: send message: %w", err)
	}
	if !done {
		return result, errStreamTruncated
	}
	return result, nil
}

// readSSE decodes the data lines of an event stream and hands each complete
// event to fn. fn returning io.EOF ends the stream without error. Payloads
// that are not JSON are skipped.
func readSSE(ctx context.Context, r io.Reader, fn func(streamEvent) error) error {
	return scanSSE(ctx, r, func(payload string) error {
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil
		}
		return fn(ev)
	})
}

// scanSSE hands fn the data of each event, multi-line data joined with "\n".
func scanSSE(ctx context.Context, r io.Reader, fn func(payload string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data []string
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return fn(payload)
	}
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if err := flush(); err != nil {
				return eofIsNil(err)
			}
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(payload, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return eofIsNil(flush())
}

func eofIsNil(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
