// Package cloudflare reads and toggles on-demand advertisement of BYOIP
// prefixes through the Cloudflare addressing API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/remote"
)

const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// DwellTime is the minimum interval Cloudflare enforces between advertisement
// changes on one prefix. It is reported, not enforced, by this client.
const DwellTime = 15 * time.Minute

// Config holds client settings.
type Config struct {
	BaseURL   string
	AccountID string
	APIToken  string
	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration
}

// Client implements remote.Checker and remote.Mutator.
type Client struct {
	cfg     Config
	mapping Mapping
	client  *http.Client

	// bgpIDs caches BGP prefix ids discovered at runtime for mapping entries
	// that lack one. It is only a lookup cache; losing it costs one request.
	mu     sync.Mutex
	bgpIDs map[string]string
}

func New(cfg Config, mapping Mapping) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		mapping: mapping,
		client:  &http.Client{},
		bgpIDs:  make(map[string]string),
	}
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type bgpPrefix struct {
	ID       string `json:"id"`
	OnDemand struct {
		Advertised           bool       `json:"advertised"`
		AdvertisedModifiedAt *time.Time `json:"advertised_modified_at"`
	} `json:"on_demand"`
}

// State returns the prefix's advertisement state and when it last changed.
func (c *Client) State(ctx context.Context, resourceKey string) (remote.State, error) {
	path, err := c.prefixPath(ctx, resourceKey)
	if err != nil {
		return remote.State{}, err
	}

	var p bgpPrefix
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return remote.State{}, fmt.Errorf("get %s: %w", resourceKey, err)
	}
	return remote.State{Active: p.OnDemand.Advertised, ModifiedAt: p.OnDemand.AdvertisedModifiedAt}, nil
}

func (c *Client) IsActive(ctx context.Context, resourceKey string) (bool, error) {
	st, err := c.State(ctx, resourceKey)
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

// SetActive patches on_demand.advertised. A change inside the dwell time is
// rejected by Cloudflare and comes back as a *remote.StatusError.
func (c *Client) SetActive(ctx context.Context, resourceKey string, active bool) error {
	path, err := c.prefixPath(ctx, resourceKey)
	if err != nil {
		return err
	}

	body := map[string]any{"on_demand": map[string]bool{"advertised": active}}
	if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("patch %s advertised=%t: %w", resourceKey, active, err)
	}
	log.Printf("cloudflare: set advertised=%t resource=%s", active, resourceKey)
	return nil
}

func (c *Client) prefixPath(ctx context.Context, resourceKey string) (string, error) {
	p, ok := c.mapping[resourceKey]
	if !ok {
		return "", fmt.Errorf("%s: %w", resourceKey, remote.ErrUnknownResource)
	}

	bgpID, err := c.bgpPrefixID(ctx, resourceKey, p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/accounts/%s/addressing/prefixes/%s/bgp/prefixes/%s", c.cfg.AccountID, p.PrefixID, bgpID), nil
}

func (c *Client) bgpPrefixID(ctx context.Context, resourceKey string, p Prefix) (string, error) {
	if p.BGPPrefixID != "" {
		return p.BGPPrefixID, nil
	}

	c.mu.Lock()
	id, ok := c.bgpIDs[resourceKey]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var list []bgpPrefix
	path := fmt.Sprintf("/accounts/%s/addressing/prefixes/%s/bgp/prefixes", c.cfg.AccountID, p.PrefixID)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return "", fmt.Errorf("list bgp prefixes for %s: %w", resourceKey, err)
	}
	if len(list) == 0 || list[0].ID == "" {
		return "", fmt.Errorf("%s: bgp prefix id: %w", resourceKey, remote.ErrMissingIdentifier)
	}

	c.mu.Lock()
	c.bgpIDs[resourceKey] = list[0].ID
	c.mu.Unlock()
	return list[0].ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &remote.StatusError{StatusCode: resp.StatusCode, Message: env.message()}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		return &remote.StatusError{StatusCode: resp.StatusCode, Message: env.message()}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func (e envelope) message() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, m := range e.Errors {
		if m.Code != 0 {
			msgs = append(msgs, fmt.Sprintf("%d: %s", m.Code, m.Message))
		} else {
			msgs = append(msgs, m.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
