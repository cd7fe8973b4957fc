package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// maxResponseBytes bounds the trigger response kept for reporting.
const maxResponseBytes = 1 << 20 // 1 MiB

// ErrUnexpectedStatus is wrapped by TriggerError when the endpoint answers
// with a non-success status.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// TriggerError reports a failed build trigger invocation.
type TriggerError struct {
	Tag        string
	StatusCode int    // zero when no response was received
	Body       string // response body, if any
	Err        error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("build trigger for tag %q failed: %v", e.Tag, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// Payload is the JSON document posted to the trigger endpoint.
type Payload struct {
	DockerTag string `json:"docker_tag"`
}

// Client posts rebuild requests to a build trigger webhook. No credentials
// are added: the webhook URL is expected to carry its own authorization.
type Client struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func New(url string, client *http.Client, timeout time.Duration) *Client {
	if client == nil {
		client = http.DefaultClient
	}

	return &Client{
		url:     url,
		client:  client,
		timeout: timeout,
	}
}

// Trigger requests a rebuild of tag, returning the endpoint's response body.
func (c *Client) Trigger(ctx context.Context, tag string) (string, error) {
	payload, err := json.Marshal(Payload{DockerTag: tag})
	if err != nil {
		return "", &TriggerError{Tag: tag, Err: fmt.Errorf("could not encode payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", &TriggerError{Tag: tag, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", &TriggerError{Tag: tag, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", &TriggerError{Tag: tag, StatusCode: res.StatusCode, Err: fmt.Errorf("could not read response body: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &TriggerError{
			Tag:        tag,
			StatusCode: res.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status),
		}
	}

	log.Ctx(ctx).Info().Str("tag", tag).Int("status", res.StatusCode).Msg("build trigger accepted")

	return string(body), nil
}
