// Package transcribe wraps the speech-to-text collaborator API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Utterance is one speaker turn in a diarized transcript.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Transcript is the speaker-labeled output for one recording.
type Transcript struct {
	Speakers   int         `json:"speakers"`
	Utterances []Utterance `json:"utterances"`
}

// Text flattens the utterances into "Speaker: text" lines for analysis input.
func (t *Transcript) Text() string {
	var buf bytes.Buffer
	for _, u := range t.Utterances {
		fmt.Fprintf(&buf, "%s: %s\n", u.Speaker, u.Text)
	}
	return buf.String()
}

type Options struct {
	Diarize bool
}

// Transcriber is the capability the pipeline depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts Options) (Transcript, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, opts Options) (Transcript, error) {
	endpoint := c.baseURL + "/v1/transcripts?" + url.Values{
		"diarize": []string{strconv.FormatBool(opts.Diarize)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, errors.Wrap(err, "transcription request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("transcription service returned HTTP %d", resp.StatusCode)
	}

	var transcript Transcript
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		return Transcript{}, errors.Wrap(err, "failed to decode transcript")
	}
	return transcript, nil
}
