// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/router"
)

// =============================================================================
// SSE STREAM PARSING
// =============================================================================

// maxFrameSize bounds one SSE line read by the client.
const maxFrameSize = 1024 * 1024

// StreamEnd says how a chat stream finished.
type StreamEnd int

const (
	// StreamDone means the server sent the END marker.
	StreamDone StreamEnd = iota
	// StreamAborted means the server sent the ABORTED marker.
	StreamAborted
	// StreamFailed means the server sent an error event.
	StreamFailed
)

// ErrStreamTruncated is returned when the body ends without a terminal event.
var ErrStreamTruncated = errors.New("stream ended without a terminal event")

// StreamError carries the message of an error event.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// ReadChatStream parses a /api/chat event stream, calling onChunk for every
// fragment until the terminal event. A failed generation returns
// (StreamFailed, *StreamError).
func ReadChatStream(r io.Reader, onChunk func(string)) (StreamEnd, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var (
		event string
		data  []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			switch {
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
			continue
		}

		if len(data) == 0 {
			event = ""
			continue
		}
		payload := strings.Join(data, "\n")
		name := event
		event, data = "", nil

		switch name {
		case "done":
			if payload == "ABORTED" {
				return StreamAborted, nil
			}
			return StreamDone, nil
		case "error":
			var body struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(payload), &body); err != nil || body.Message == "" {
				body.Message = payload
			}
			return StreamFailed, &StreamError{Message: body.Message}
		default:
			var fragment string
			if err := json.Unmarshal([]byte(payload), &fragment); err != nil {
				continue
			}
			onChunk(fragment)
		}
	}
	if err := scanner.Err(); err != nil {
		return StreamFailed, err
	}
	return StreamFailed, ErrStreamTruncated
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// ChatClient talks to a running rigrun-chat server.
type ChatClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// ChatBody is the request body of POST /api/chat.
type ChatBody struct {
	Message         string `json:"message"`
	WebSearchMode   string `json:"webSearchMode,omitempty"`
	ContentURL      string `json:"contentUrl,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

// APIError is a non-stream error answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Send posts one turn and streams the reply into onChunk. Cancelling ctx
// closes the connection, which the server treats as an abort.
func (c *ChatClient) Send(ctx context.Context, body ChatBody, onChunk func(string)) (StreamEnd, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return StreamFailed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StreamFailed, readAPIError(resp)
	}
	end, err := ReadChatStream(resp.Body, onChunk)
	if err != nil && ctx.Err() != nil {
		return StreamAborted, nil
	}
	return end, err
}

// NewConversation asks the server to start a fresh conversation.
func (c *ChatClient) NewConversation(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/conversations", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.ID, nil
}

func (c *ChatClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Message}
}

// =============================================================================
// INTERACTIVE SESSION
// =============================================================================

type chatOptions struct {
	url        string
	token      string
	searchMode string
	contentURL string
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running server",
		Long: "Chat with a running rigrun-chat server. Ctrl+C aborts the reply in\n" +
			"progress; Ctrl+D or /exit quits. /new starts a new conversation and\n" +
			"/search always|never|auto changes the web search mode.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "server URL (default from server.host/port)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (default server.api_token)")
	cmd.Flags().StringVarP(&opts.searchMode, "search", "s", "", "web search mode: always, never or auto")
	cmd.Flags().StringVar(&opts.contentURL, "content-url", "", "page to include with the first message")
	return cmd
}

func runChat(out io.Writer, opts chatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := &ChatClient{BaseURL: opts.url, Token: opts.token}
	if client.BaseURL == "" {
		client.BaseURL = "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}
	if client.Token == "" {
		client.Token = cfg.Server.APIToken
	}
	mode := router.ParseSearchMode(opts.searchMode, router.ParseSearchMode(cfg.Chat.DefaultSearchMode, router.SearchAuto))

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	historyFile := chatHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer saveChatHistory(line, historyFile)

	fmt.Fprintln(out, TitleStyle.Render("rigrun-chat")+" "+DimStyle.Render(client.BaseURL))
	fmt.Fprintln(out, DimStyle.Render("Ctrl+C aborts a reply, Ctrl+D quits. /new, /search <mode>, /exit"))

	contentURL := opts.contentURL
	newConversation := false
	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			// Ctrl+C at the prompt or Ctrl+D
			fmt.Fprintln(out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			fields := strings.Fields(input)
			switch fields[0] {
			case "/exit", "/quit":
				return nil
			case "/new":
				newConversation = true
				fmt.Fprintln(out, DimStyle.Render("Next message starts a new conversation."))
			case "/search":
				if len(fields) < 2 {
					fmt.Fprintln(out, DimStyle.Render("search mode: "+mode.String()))
					continue
				}
				mode = router.ParseSearchMode(fields[1], mode)
				fmt.Fprintln(out, DimStyle.Render("search mode: "+mode.String()))
			default:
				fmt.Fprintln(out, WarningStyle.Render("unknown command "+fields[0]))
			}
			continue
		}

		body := ChatBody{
			Message:         input,
			WebSearchMode:   mode.String(),
			ContentURL:      contentURL,
			NewConversation: newConversation,
		}
		end, err := streamTurn(out, client, body)
		switch {
		case err != nil:
			fmt.Fprintln(out, ErrorStyle.Render("[Error]"), err)
		case end == StreamAborted:
			fmt.Fprintln(out, WarningStyle.Render("[Aborted]"))
		default:
			contentURL = ""
			newConversation = false
		}
	}
}

// streamTurn sends one message; SIGINT while streaming aborts the reply
// instead of quitting.
func streamTurn(out io.Writer, client *ChatClient, body ChatBody) (StreamEnd, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprint(out, PromptStyle.Render("assistant> "))
	end, err := client.Send(ctx, body, func(fragment string) {
		fmt.Fprint(out, fragment)
	})
	fmt.Fprintln(out)
	return end, err
}

func chatHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

// saveChatHistory persists input history with owner-only permissions.
func saveChatHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
