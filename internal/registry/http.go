package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response bodies are read fully so they can be hashed or decoded; these
// bounds stop a misbehaving endpoint from exhausting memory.
const (
	maxTokenBodyBytes    = 64 << 10 // 64 KiB
	maxTagListBodyBytes  = 16 << 20 // 16 MiB
	maxManifestBodyBytes = 4 << 20  // 4 MiB
)

// do sends req under its own timeout and returns the response together with
// its body. The response body is always closed. A response is returned
// alongside a read error so callers can still report the status.
func do(ctx context.Context, client *http.Client, timeout time.Duration, req *http.Request, limit int64) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return res, nil, fmt.Errorf("could not read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return res, nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}

	return res, body, nil
}

func success(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}
