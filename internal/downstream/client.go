package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
)

// Device-control service endpoints.
const (
	pathSubscribe   = "/api/device/internal/subscribe"
	pathUnsubscribe = "/api/device/internal/unsubscribe"
	pathRefresh     = "/api/device/internal/refresh"
	pathPlug        = "/api/device/plug/{id}/"
	pathStats       = "/api/device/monitor/stats"
)

// Operation names a proxied device command.
type Operation string

// Proxied commands.
const (
	OpToggle Operation = "toggle"
	OpStatus Operation = "status"
	OpOnline Operation = "online"
	OpEvents Operation = "events"
)

// Valid reports whether op is a known command.
func (op Operation) Valid() bool {
	switch op {
	case OpToggle, OpStatus, OpOnline, OpEvents:
		return true
	}
	return false
}

const contentTypeJSON = "application/json"

// Result is a proxied command response, returned to the caller verbatim.
type Result struct {
	Status      int
	Body        []byte
	ContentType string
}

// BlackoutStats summarises grid outages seen by a monitor.
type BlackoutStats struct {
	IsBlackout        bool    `json:"isBlackout"`
	ConsumedWattHours float64 `json:"consumedWattHours"`
	DurationSeconds   int64   `json:"durationSeconds"`
}

// Client talks to the device-control microservice.
//
// Notifications go through a retrying resty client. Commands use a second
// client without retries, since toggle is not idempotent.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	notifier       *resty.Client
	commander      *resty.Client
	notifyTimeout  time.Duration
	commandTimeout time.Duration
	concurrency    int
	metrics        *Metrics
	logger         *logging.Logger
}

// NewClient creates a client for the service described by cfg.
// metrics may be nil.
func NewClient(cfg config.DownstreamConfig, metrics *Metrics, logger *logging.Logger) *Client {
	concurrency := cfg.StatusConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Client{
		notifier:       newRestyClient(cfg, cfg.RetryCount),
		commander:      newRestyClient(cfg, 0),
		notifyTimeout:  cfg.GetNotifyTimeout(),
		commandTimeout: cfg.GetCommandTimeout(),
		concurrency:    concurrency,
		metrics:        metrics,
		logger:         logger.With("component", "downstream"),
	}
}

func newRestyClient(cfg config.DownstreamConfig, retries int) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", contentTypeJSON).
		SetHeader("Content-Type", contentTypeJSON)
	if cfg.ServiceToken != "" {
		c.SetAuthToken(cfg.ServiceToken)
	}
	return c
}

// NotifyUpsert sends the full device record so the service subscribes to
// (or updates) its MQTT prefix.
func (c *Client) NotifyUpsert(ctx context.Context, d device.Device) error {
	return c.notify(ctx, pathSubscribe, d)
}

// NotifyRemove tells the service to drop its subscription for prefix.
func (c *Client) NotifyRemove(ctx context.Context, prefix string) error {
	return c.notify(ctx, pathUnsubscribe, prefixBody{Prefix: prefix})
}

// NotifyRefresh asks the service to recompute and push state for the
// monitor with prefix.
func (c *Client) NotifyRefresh(ctx context.Context, prefix string) error {
	return c.notify(ctx, pathRefresh, prefixBody{Prefix: prefix})
}

type prefixBody struct {
	Prefix string `json:"mqttPrefix"`
}

func (c *Client) notify(ctx context.Context, path string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
	defer cancel()

	resp, err := c.notifier.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("posting %s: status %d: %s", path, resp.StatusCode(), truncate(resp.Body(), 200))
	}
	return nil
}

// Command proxies op for deviceID and returns the service's response.
//
// Error responses keep the downstream status. Status and events errors
// carry a JSON body, wrapped when the service did not send one. Online
// errors carry no body. Transport failures map to 502, timeouts to 504.
func (c *Client) Command(ctx context.Context, deviceID int64, op Operation, params map[string]string) Result {
	if !op.Valid() {
		return jsonResult(http.StatusBadRequest, map[string]string{"error": "unknown operation"})
	}

	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	req := c.commander.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(deviceID, 10)).
		SetQueryParams(params)

	var (
		resp *resty.Response
		err  error
	)
	if op == OpToggle {
		resp, err = req.Post(pathPlug + string(op))
	} else {
		resp, err = req.Get(pathPlug + string(op))
	}

	res := c.commandResult(op, resp, err)
	c.metrics.recordCommand(string(op), res.Status)

	if err != nil {
		c.logger.Warn("device command failed",
			"operation", op,
			"device_id", deviceID,
			"status", res.Status,
			"error", err,
		)
	}

	return res
}

func (c *Client) commandResult(op Operation, resp *resty.Response, err error) Result {
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
			return jsonResult(http.StatusGatewayTimeout, map[string]string{"error": "device service timeout"})
		case errors.Is(err, context.Canceled):
			return jsonResult(http.StatusInternalServerError, map[string]string{"error": "Unexpected error calling device service"})
		case isTransport(err):
			return jsonResult(http.StatusBadGateway, map[string]string{"error": "device service unreachable"})
		default:
			return jsonResult(http.StatusInternalServerError, map[string]string{"error": "Unexpected error calling device service"})
		}
	}

	status := resp.StatusCode()
	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")

	if resp.IsSuccess() {
		if contentType == "" {
			contentType = contentTypeJSON
		}
		return Result{Status: status, Body: body, ContentType: contentType}
	}

	switch op {
	case OpOnline:
		return Result{Status: status}
	case OpStatus, OpEvents:
		if json.Valid(body) {
			return Result{Status: status, Body: body, ContentType: contentTypeJSON}
		}
		return jsonResult(status, map[string]any{
			"error":   "Failed to retrieve data from device service",
			"status":  status,
			"message": string(body),
		})
	default:
		return Result{Status: status, Body: body, ContentType: contentType}
	}
}

// AllStatuses fetches the status of every device concurrently. A device
// whose status cannot be fetched is reported as {"online":false}.
func (c *Client) AllStatuses(ctx context.Context, ids []int64) map[int64]json.RawMessage {
	out := make(map[int64]json.RawMessage, len(ids))
	offline := json.RawMessage(`{"online":false}`)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			res := c.Command(ctx, id, OpStatus, nil)
			status := offline
			if res.Status >= 200 && res.Status < 300 && json.Valid(res.Body) {
				status = json.RawMessage(res.Body)
			}
			mu.Lock()
			out[id] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	return out
}

// BlackoutStats fetches outage statistics for the monitor with prefix.
func (c *Client) BlackoutStats(ctx context.Context, prefix string) (*BlackoutStats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	var stats BlackoutStats
	resp, err := c.commander.R().
		SetContext(ctx).
		SetQueryParam("mqttPrefix", prefix).
		SetResult(&stats).
		Get(pathStats)
	if err != nil {
		return nil, fmt.Errorf("fetching blackout stats: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching blackout stats: status %d", resp.StatusCode())
	}
	return &stats, nil
}

func jsonResult(status int, v any) Result {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"Unexpected error calling device service"}`)
	}
	return Result{Status: status, Body: body, ContentType: contentTypeJSON}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransport(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
