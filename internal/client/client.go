package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/assistkit/chatcore/internal/model/chat"
)

const sessionHeader = "Session-ID"

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrQuotaExceeded       = errors.New("usage quota exceeded")
)

// Stage tells how far a failed request got before it died.
type Stage string

const (
	// StageSetup: the request never left the client.
	StageSetup Stage = "setup"
	// StageNoResponse: the request was sent but nothing came back.
	StageNoResponse Stage = "no-response"
	// StageResponse: a response arrived carrying an error status.
	StageResponse Stage = "response"
)

// RequestError classifies a request-layer failure.
type RequestError struct {
	Stage  Stage
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Stage == StageResponse {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed (%s): %v", e.Stage, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// OutcomeKind discriminates the three shapes a submit can resolve to.
type OutcomeKind string

const (
	// OutcomeImmediate carries a structured reply, no stream follows.
	OutcomeImmediate OutcomeKind = "immediate"
	// OutcomeStreamReady signals the caller to open the reply stream.
	OutcomeStreamReady OutcomeKind = "stream-ready"
	// OutcomeError carries a backend-reported detail message.
	OutcomeError OutcomeKind = "error"
)

// Outcome is the resolved result of a chat or upload submission.
// SuggestedQuestions is a side channel populated whenever the backend
// delivered any, regardless of the outcome kind.
type Outcome struct {
	Kind               OutcomeKind
	SchedulingLink     string
	Detail             string
	SuggestedQuestions []string
}

// Client talks to the chat backend: message submission, attachment
// upload and audio transcription. Streamed replies are handled by the
// stream package.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the backend at baseURL. A nil httpClient
// gets a default with a generous timeout suited to transcription.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// chatResponse is the backend reply envelope; every field is optional
// and unknown fields are ignored.
type chatResponse struct {
	CalendlyURL        string   `json:"calendly_url"`
	Detail             string   `json:"detail"`
	SuggestedQuestions []string `json:"suggested_questions"`
}

// Send submits a user message and resolves the outcome: an immediate
// scheduling link, a stream-ready signal, or a backend-reported error.
func (c *Client) Send(ctx context.Context, text string, flags chat.Flags, sessionID string) (Outcome, error) {
	payload := struct {
		Message struct {
			Role    chat.Role `json:"role"`
			Content string    `json:"content"`
		} `json:"message"`
		chat.Flags
	}{Flags: flags}
	payload.Message.Role = chat.RoleUser
	payload.Message.Content = text

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, sessionID)

	return c.resolve(req)
}

// SendFiles submits a message with attachments as a multipart upload.
// A backend {detail} reply maps to an error outcome, anything else to
// stream-ready, matching the upload contract.
func (c *Client) SendFiles(ctx context.Context, files []chat.File, text, sessionID string) (Outcome, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.Name)
		if err != nil {
			return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
		}
		if _, err := part.Write(file.Data); err != nil {
			return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
		}
	}
	if err := writer.WriteField("message", text); err != nil {
		return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
	}
	if err := writer.Close(); err != nil {
		return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return Outcome{}, &RequestError{Stage: StageSetup, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(sessionHeader, sessionID)

	return c.resolve(req)
}

// Transcribe ships a captured audio clip to the backend and returns
// the transcript. Any failure surfaces as ErrTranscriptionFailed so
// the caller can reset recording state without inspecting the cause.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, sessionID string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if err := writer.WriteField("session_id", sessionID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrTranscriptionFailed, resp.StatusCode)
	}

	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	return payload.Transcript, nil
}

// resolve executes the request and maps the backend envelope onto an
// Outcome. Suggested questions are extracted whenever present, with
// blank entries dropped.
func (c *Client) resolve(req *http.Request) (Outcome, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, &RequestError{Stage: StageNoResponse, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Outcome{}, ErrQuotaExceeded
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return Outcome{}, &RequestError{Stage: StageResponse, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, &RequestError{Stage: StageNoResponse, Err: err}
	}

	var envelope chatResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return Outcome{}, &RequestError{Stage: StageResponse, Status: resp.StatusCode, Err: err}
		}
	}

	outcome := Outcome{SuggestedQuestions: filterBlank(envelope.SuggestedQuestions)}
	switch {
	case envelope.Detail != "":
		outcome.Kind = OutcomeError
		outcome.Detail = envelope.Detail
	case envelope.CalendlyURL != "":
		outcome.Kind = OutcomeImmediate
		outcome.SchedulingLink = envelope.CalendlyURL
	default:
		outcome.Kind = OutcomeStreamReady
	}
	return outcome, nil
}

func filterBlank(questions []string) []string {
	if len(questions) == 0 {
		return nil
	}
	kept := make([]string, 0, len(questions))
	for _, q := range questions {
		if strings.TrimSpace(q) != "" {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
