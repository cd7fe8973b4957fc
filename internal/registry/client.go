package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chinmina/imagedrift/internal/config"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"
)

// ManifestV2MediaType must be requested explicitly: without it registries
// serve the legacy schema 1 manifest.
const ManifestV2MediaType = "application/vnd.docker.distribution.manifest.v2+json"

// Client queries the registry v2 API using tokens from an Auth.
type Client struct {
	baseURL *url.URL
	auth    *Auth
	client  *http.Client
	timeout time.Duration
}

func NewClient(cfg config.RegistryConfig, client *http.Client, auth *Auth) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("could not parse registry URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Client{
		baseURL: base,
		auth:    auth,
		client:  client,
		timeout: cfg.RequestTimeout,
	}, nil
}

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Tags lists the tags of image in the order the registry returns them. An
// image without tags yields an empty slice.
func (c *Client) Tags(ctx context.Context, image string) ([]string, error) {
	res, body, err := c.get(ctx, image, c.baseURL.JoinPath(image, "tags", "list"), "", maxTagListBodyBytes)
	if err != nil {
		return nil, registryError("tags", image, "", res, err)
	}

	var list tagList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, registryError("tags", image, "", res, fmt.Errorf("could not parse tag list: %w", err))
	}

	if list.Tags == nil {
		return []string{}, nil
	}

	return list.Tags, nil
}

// ManifestDigest fetches the v2 manifest of image:tag and returns the SHA-256
// digest of the raw response body. Any digest header sent by the registry is
// ignored: the body is hashed locally so that both sides of a comparison are
// computed the same way.
func (c *Client) ManifestDigest(ctx context.Context, image, tag string) (digest.Digest, error) {
	u := c.baseURL.JoinPath(image, "manifests", url.PathEscape(tag))

	res, body, err := c.get(ctx, image, u, ManifestV2MediaType, maxManifestBodyBytes)
	if err != nil {
		return "", registryError("manifest", image, tag, res, err)
	}

	return digest.FromBytes(body), nil
}

// get performs an authorized GET against the registry. Non-success responses
// are returned as errors, with the response so the status can be reported.
func (c *Client) get(ctx context.Context, image string, u *url.URL, accept string, limit int64) (*http.Response, []byte, error) {
	scope := PullScope(image)

	token, err := c.auth.AccessToken(ctx, scope)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	res, body, err := do(ctx, c.client, c.timeout, req, limit)
	if err != nil {
		return res, nil, err
	}

	if !success(res) {
		if res.StatusCode == http.StatusUnauthorized {
			// the token was rejected (most likely expired): drop it so the
			// next request for this scope authenticates again
			log.Ctx(ctx).Debug().Str("scope", scope).Msg("registry rejected token, invalidating")
			c.auth.Invalidate(ctx, scope)
		}
		return res, body, statusError(res, body)
	}

	return res, body, nil
}

func registryError(op, image, tag string, res *http.Response, err error) *RegistryError {
	re := &RegistryError{
		Op:    op,
		Image: image,
		Tag:   tag,
		Err:   err,
	}
	if res != nil {
		re.StatusCode = res.StatusCode
	}
	return re
}
