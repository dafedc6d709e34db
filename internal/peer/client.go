package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/tracing"
)

const (
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 512
)

// Options задаёт параметры HTTP-клиента внешних сервисов.
type Options struct {
	RestaurantsURL string
	TablesURL      string
	Timeout        time.Duration
	HTTPClient     *http.Client
	// У каждого сервиса свой breaker: отказ одного не блокирует вызовы другого.
	RestaurantsBreaker *Breaker
	TablesBreaker      *Breaker
	Metrics            *metrics.Metrics
	Logger             *log.Entry
}

// Client обращается к сервисам ресторанов и столов по HTTP. Повторов нет:
// вызывающий получает ErrPeerNotFound или ErrPeerUnavailable сразу.
type Client struct {
	restaurantsURL string
	tablesURL      string
	timeout        time.Duration
	http           *http.Client
	restaurantsCB  *Breaker
	tablesCB       *Breaker
	metrics        *metrics.Metrics
	logger         *log.Entry
}

// NewClient создаёт клиент. Базовые URL обязательны.
func NewClient(opts Options) (*Client, error) {
	restaurants, err := normalizeBaseURL(opts.RestaurantsURL)
	if err != nil {
		return nil, fmt.Errorf("restaurants url: %w", err)
	}
	tables, err := normalizeBaseURL(opts.TablesURL)
	if err != nil {
		return nil, fmt.Errorf("tables url: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "peer-client")
	}

	return &Client{
		restaurantsURL: restaurants,
		tablesURL:      tables,
		timeout:        opts.Timeout,
		http:           opts.HTTPClient,
		restaurantsCB:  opts.RestaurantsBreaker,
		tablesCB:       opts.TablesBreaker,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return strings.TrimRight(raw, "/"), nil
}

type restaurantDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// GetRestaurant выполняет GET /restaurants/{id}.
func (c *Client) GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error) {
	var dto restaurantDTO
	err := c.call(ctx, c.restaurantsCB, "get_restaurant", http.MethodGet, c.restaurantsURL+"/restaurants/"+url.PathEscape(id), nil, &dto)
	if err != nil {
		return domain.Restaurant{}, err
	}
	if dto.ID == "" {
		dto.ID = id
	}
	return domain.Restaurant{ID: dto.ID, Name: dto.Name}, nil
}

// GetTable выполняет GET /tables/{id}.
func (c *Client) GetTable(ctx context.Context, id string) (domain.Table, error) {
	var raw json.RawMessage
	if err := c.call(ctx, c.tablesCB, "get_table", http.MethodGet, c.tablesURL+"/tables/"+url.PathEscape(id), nil, &raw); err != nil {
		return domain.Table{}, err
	}

	table, err := decodeTable(raw)
	if err != nil {
		return domain.Table{}, fmt.Errorf("%w: decode table: %v", domain.ErrPeerUnavailable, err)
	}
	if table.ID == "" {
		table.ID = id
	}
	return table, nil
}

// UpdateTable выполняет PUT /tables/{id} с полной проекцией стола.
func (c *Client) UpdateTable(ctx context.Context, table domain.Table) error {
	body, err := encodeTable(table)
	if err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	return c.call(ctx, c.tablesCB, "update_table", http.MethodPut, c.tablesURL+"/tables/"+url.PathEscape(table.ID), body, nil)
}

func (c *Client) call(ctx context.Context, breaker *Breaker, operation, method, target string, body []byte, out any) (err error) {
	ctx, span := tracing.Start(ctx, "peer."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
		),
	)
	defer func() {
		c.metrics.RecordPeerRequest(operation, resultLabel(err))
		tracing.End(span, err)
	}()

	return breaker.Execute(operation, func() error {
		return c.do(ctx, operation, method, target, body, out)
	})
}

func (c *Client) do(ctx context.Context, operation, method, target string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"url":       target,
		}).Warn("peer request failed")
		return fmt.Errorf("%w: %s: %v", domain.ErrPeerUnavailable, operation, err)
	}
	defer resp.Body.Close()

	logger := c.logger.WithFields(log.Fields{
		"operation":   operation,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.Debug("peer entity not found")
		return fmt.Errorf("%w: %s", domain.ErrPeerNotFound, operation)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.WithField("body", string(snippet)).Warn("peer returned unexpected status")
		return fmt.Errorf("%w: %s: unexpected status %d", domain.ErrPeerUnavailable, operation, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.Debug("peer request completed")
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", domain.ErrPeerUnavailable, operation, err)
	}
	logger.Debug("peer request completed")
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPeerNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}

var _ domain.PeerGateway = (*Client)(nil)
