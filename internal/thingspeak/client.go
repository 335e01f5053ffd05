package thingspeak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"actuator_dashboard/internal/logger"
	"actuator_dashboard/internal/models"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.thingspeak.com"
	defaultTimeout = 10 * time.Second

	// maxBodyBytes caps what we read from the remote; feeds are tiny.
	maxBodyBytes = 64 << 10
)

// Failure classes. Both collapse to nil/false at the public boundary.
var (
	ErrTransport = errors.New("channel transport failure")
	ErrProtocol  = errors.New("channel protocol failure")
)

type Options struct {
	BaseURL string
	Timeout time.Duration
	// WriteInterval spaces consecutive writes; zero disables pacing.
	WriteInterval time.Duration
	// HTTPClient overrides the default HTTP/2 client (tests).
	HTTPClient *http.Client
}

// Client is a stateless wrapper around the channel read and write endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	writes  *rate.Limiter
	log     *logger.Logger
}

func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		var err error
		if hc, err = NewHTTPClient(timeout); err != nil {
			return nil, err
		}
	}

	var limiter *rate.Limiter
	if opts.WriteInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.WriteInterval), 1)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Client{baseURL: base, http: hc, writes: limiter, log: log}, nil
}

// ReadLatest returns the newest entry of the channel, or nil on any failure.
func (c *Client) ReadLatest(ctx context.Context, channelID, readKey string) *models.Sample {
	s, err := c.fetchLatest(ctx, channelID, readKey)
	if err != nil {
		c.log.Warnw("channel_read_failed", "channel", channelID, "err", err)
		return nil
	}
	return s
}

// WriteFields sends one update carrying every given field. It reports true
// only when the remote acknowledges a positive entry count.
func (c *Client) WriteFields(ctx context.Context, writeKey string, fields map[int]bool) bool {
	entry, err := c.update(ctx, writeKey, fields)
	if err != nil {
		c.log.Warnw("channel_write_failed", "fields", len(fields), "err", err)
		return false
	}
	c.log.Debugw("channel_write_ok", "entry_id", entry, "fields", len(fields))
	return true
}

// WriteField updates a single field.
func (c *Client) WriteField(ctx context.Context, writeKey string, field int, on bool) bool {
	return c.WriteFields(ctx, writeKey, map[int]bool{field: on})
}

func (c *Client) fetchLatest(ctx context.Context, channelID, readKey string) (*models.Sample, error) {
	q := url.Values{}
	q.Set("api_key", readKey)
	endpoint := fmt.Sprintf("%s/channels/%s/feeds/last.json?%s", c.baseURL, url.PathEscape(channelID), q.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return decodeSample(body)
}

func (c *Client) update(ctx context.Context, writeKey string, fields map[int]bool) (int, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty update", ErrProtocol)
	}
	q := url.Values{}
	for i, on := range fields {
		if !models.ValidField(i) {
			return 0, fmt.Errorf("%w: field index %d out of range", ErrProtocol, i)
		}
		q.Set(models.FieldKey(i), encodeValue(on))
	}
	q.Set("api_key", writeKey)

	if c.writes != nil {
		if err := c.writes.Wait(ctx); err != nil {
			return 0, fmt.Errorf("%w: waiting for write slot: %v", ErrTransport, err)
		}
	}

	body, err := c.get(ctx, c.baseURL+"/update?"+q.Encode())
	if err != nil {
		return 0, err
	}
	n, err := parseEntryID(body)
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected update response %q", ErrProtocol, truncate(string(body)))
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: update not accepted (%d)", ErrProtocol, n)
	}
	return n, nil
}

// get performs a GET and returns the body of a 2xx response. Errors never
// carry the request URL so api keys stay out of the logs.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, redact(err))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %s", ErrTransport, resp.Status)
	}
	return body, nil
}

func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
