// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (1MB).
const MaxChunkSize = 1024 * 1024

// doneSentinel is the data payload that ends an OpenAI style stream.
var doneSentinel = []byte("[DONE]")

var (
	// ErrIncompleteStream means the connection closed before the server
	// signalled the end of the completion.
	ErrIncompleteStream = errors.New("stream ended before completion")

	// ErrStreamStalled means no frame arrived within the request timeout.
	ErrStreamStalled = errors.New("stream stalled")

	// ErrChunkTooLarge means a single SSE line exceeded MaxChunkSize.
	ErrChunkTooLarge = errors.New("SSE line exceeds maximum size")
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is one message in a chat completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// StreamChunk is one decoded data frame of the completion stream.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`

	// Error is set when the server reports a failure mid-stream. LM Studio
	// sends either a string or an {"message": ...} object.
	Error json.RawMessage `json:"error,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the first choice carries a finish reason.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// ErrorMessage returns the mid-stream error text, or "".
func (c *StreamChunk) ErrorMessage() string {
	return errorText(c.Error)
}

// errorText extracts a message from an OpenAI style error value.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// Multiple data lines of one event are joined with "\n".
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF {
				// If we have data, return it before EOF
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		// Parse field
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// readLine returns one line without its terminator. A final line without
// a newline is returned before io.EOF.
func (s *SSEReader) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, frag...)
		if len(line) > MaxChunkSize {
			return nil, ErrChunkTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat streams a chat completion for messages with the configured
// model. Every content delta is passed to opts.OnToken in order.
//
// The stream is complete when the server sends [DONE] (or a finish reason
// followed by end of stream). The full text is returned only then; every
// other ending returns a *StreamError carrying the partial text. A
// cancelled ctx yields a StreamError that matches context.Canceled.
func (c *Client) StreamChat(ctx context.Context, messages []model.Message, opts model.GenerationOptions) (string, error) {
	base := c.BaseURL()
	modelName := c.Model()
	if err := c.guard.CheckBackendURL(base); err != nil {
		return "", err
	}
	if modelName == "" {
		return "", ErrNoModel
	}

	body, err := json.Marshal(ChatRequest{
		Model:       modelName,
		Messages:    toChatMessages(messages),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// The watchdog cancels the request when the server goes quiet.
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(c.requestTimeout, func() { cancel(ErrStreamStalled) })
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return "", &StreamError{Err: streamFailure(ctx, streamCtx, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StreamError{Err: readAPIError(resp)}
	}

	c.log.Debug("STREAM_START").Str("model", modelName).Dur("ttfb", time.Since(start)).Msg("Remote stream opened")

	var text strings.Builder
	err = c.processStream(streamCtx, resp.Body, watchdog, func(delta string) {
		text.WriteString(delta)
		if opts.OnToken != nil {
			opts.OnToken(delta)
		}
	})
	if err != nil {
		err = streamFailure(ctx, streamCtx, err)
		c.log.Warn("STREAM_ERROR").Str("model", modelName).Int("partial_chars", text.Len()).Err(err).Msg("Remote stream failed")
		return text.String(), &StreamError{Partial: text.String(), Err: err}
	}

	c.log.Debug("STREAM_DONE").Str("model", modelName).Dur("took", time.Since(start)).Msg("Remote stream complete")
	return text.String(), nil
}

// processStream reads frames until [DONE]. Malformed frames are skipped.
func (c *Client) processStream(ctx context.Context, body io.Reader, watchdog *time.Timer, onDelta func(string)) error {
	reader := NewSSEReader(body)
	finished := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				if finished {
					return nil
				}
				return ErrIncompleteStream
			}
			return err
		}
		watchdog.Reset(c.requestTimeout)

		// Check for [DONE] signal
		if bytes.Equal(data, doneSentinel) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.log.Debug("FRAME_SKIPPED").Int("bytes", len(data)).Msg("Malformed stream frame")
			continue
		}
		if msg := chunk.ErrorMessage(); msg != "" {
			return &APIError{Status: http.StatusOK, Message: msg}
		}

		// Deltas are not forwarded once the caller has gone away.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if content := chunk.GetContent(); content != "" {
			onDelta(content)
		}
		if chunk.IsDone() {
			finished = true
		}
	}
}

// streamFailure maps transport errors: caller cancellation wins, then the
// watchdog, then the raw error.
func streamFailure(parent, streamCtx context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if cause := context.Cause(streamCtx); errors.Is(cause, ErrStreamStalled) {
		return ErrStreamStalled
	}
	return err
}

// readAPIError decodes an error body into an APIError.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))

	var body struct {
		Error json.RawMessage `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil {
		if text := errorText(body.Error); text != "" {
			msg = text
		}
	}
	return &APIError{Status: resp.StatusCode, Message: util.TruncateRunes(msg, 500)}
}

func toChatMessages(msgs []model.Message) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
