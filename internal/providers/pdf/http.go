package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	obstracing "github.com/smallbiznis/surge/internal/observability/tracing"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
)

const maxRenderedBytes = 64 << 20

// HTTPRenderer asks the rendering service for a report PDF by record ID.
type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: timeout,
		}),
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, record reportdomain.ReportRecord) ([]byte, error) {
	if record.ID == 0 {
		return nil, errors.New("report record id is required")
	}
	endpoint := fmt.Sprintf("%s/reports/%s/pdf", r.baseURL, record.ID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", record.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("render %s: unexpected status %d", record.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRenderedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read rendered %s: %w", record.ID, err)
	}
	if len(body) > maxRenderedBytes {
		return nil, fmt.Errorf("render %s: document exceeds %d bytes", record.ID, maxRenderedBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("render %s: empty document", record.ID)
	}
	return body, nil
}
