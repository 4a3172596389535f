// Package photos talks to the Immich instance that holds the frame's
// photo album.
package photos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const apiKeyHeader = "x-api-key"

var (
	errMissingBaseURL = errors.New("base url configuration required")
	errMissingAPIKey  = errors.New("api key configuration required")
	// ErrInvalidClientConfig indicates the client was constructed without
	// required configuration.
	ErrInvalidClientConfig = errors.New("photos: invalid client config")
)

// ClientConfig bundles configuration required to instantiate a Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Asset is one album entry as returned by Immich. Different Immich
// versions expose the identifier under different keys, so all three are
// decoded and ID() picks the first present.
type Asset struct {
	IDField      string `json:"id"`
	AssetIDField string `json:"assetId"`
	AssetIDSnake string `json:"asset_id"`
}

// ID returns the asset identifier, or an empty string when none is set.
func (a Asset) ID() string {
	if a.IDField != "" {
		return a.IDField
	}
	if a.AssetIDField != "" {
		return a.AssetIDField
	}
	return a.AssetIDSnake
}

// Client fetches album listings and original asset bytes from Immich.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingAPIKey)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type albumResponse struct {
	Assets []Asset `json:"assets"`
}

// ListAlbumAssets returns the album's assets in Immich's order. An album
// with no assets yields an empty slice, not an error.
func (c *Client) ListAlbumAssets(ctx context.Context, albumID string) ([]Asset, error) {
	endpoint := fmt.Sprintf("%s/api/albums/%s", c.baseURL, albumID)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var album albumResponse
	if err := json.Unmarshal(body, &album); err != nil {
		return nil, fmt.Errorf("photos: decoding album %s: %w", albumID, err)
	}
	return album.Assets, nil
}

// FetchAssetBytes downloads the original bytes for a single asset.
func (c *Client) FetchAssetBytes(ctx context.Context, assetID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/assets/%s/original", c.baseURL, assetID)
	return c.get(ctx, endpoint)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("photos: building request: %w", err)
	}
	request.Header.Set(apiKeyHeader, c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("photos: requesting %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("photo source returned non-success status",
			zap.String("endpoint", endpoint),
			zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("photos: %s returned status %d", endpoint, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("photos: reading response body: %w", err)
	}
	return body, nil
}
