// Package indicator fetches released macro indicator values from an HTTP
// data provider.
package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
)

// HTTPSource reads values from GET {base}/{indicator_id}?release={RFC3339}.
// A 404, or a body whose value is null, means not yet published.
//
//	{"value": "2.9"}
type HTTPSource struct {
	base   string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSource creates an HTTPSource. An empty apiKey sends no
// Authorization header.
func NewHTTPSource(base, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "indicator_source")),
	}
}

type valueResponse struct {
	Value decimal.NullDecimal `json:"value"`
}

// ActualValue implements domain.IndicatorSource.
func (s *HTTPSource) ActualValue(ctx context.Context, ev domain.Event) (decimal.Decimal, error) {
	if ev.IndicatorID == "" {
		return decimal.Zero, fmt.Errorf("indicator: event %s has no indicator id: %w", ev.ID, domain.ErrActualValueMissing)
	}
	u := s.base + "/" + url.PathEscape(ev.IndicatorID) + "?release=" + url.QueryEscape(ev.ReleaseTime.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("indicator: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("indicator: fetch %s: %w", ev.IndicatorID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, fmt.Errorf("indicator: %s not published: %w", ev.IndicatorID, domain.ErrActualValueMissing)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf("indicator: fetch %s: unexpected status %d: %s", ev.IndicatorID, resp.StatusCode, string(snippet))
	}

	var body valueResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("indicator: decode %s: %w", ev.IndicatorID, err)
	}
	if !body.Value.Valid {
		return decimal.Zero, fmt.Errorf("indicator: %s not published: %w", ev.IndicatorID, domain.ErrActualValueMissing)
	}
	s.logger.InfoContext(ctx, "indicator value fetched",
		slog.String("event_id", ev.ID),
		slog.String("indicator_id", ev.IndicatorID),
		slog.String("value", body.Value.Decimal.String()),
	)
	return body.Value.Decimal, nil
}

var _ domain.IndicatorSource = (*HTTPSource)(nil)
