package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/olegkotsar/ncbi-sync/config"
	"golang.org/x/time/rate"
)

var _ Transport = (*HTTPTransport)(nil)

// HTTPTransport reads the archive over HTTP(S); NCBI serves the same tree
// at https://ftp.ncbi.nlm.nih.gov.
type HTTPTransport struct {
	client  *http.Client
	config  *config.HTTPConfig
	common  *config.CommonTransportConfig
	limiter *rate.Limiter
}

func NewHTTPTransport(cfg *config.HTTPConfig, common *config.CommonTransportConfig) (*HTTPTransport, error) {
	cfg.ApplyDefaults()
	common.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = common.MaxConnections

	return &HTTPTransport{
		client:  &http.Client{Transport: tr},
		config:  cfg,
		common:  common,
		limiter: newLimiter(common.MaxRPS),
	}, nil
}

func (h *HTTPTransport) Name() string { return "http" }

func (h *HTTPTransport) url(remotePath string) string {
	return strings.TrimRight(h.config.BaseURL, "/") + "/" + cleanPath(remotePath)
}

// Open issues one GET request
func (h *HTTPTransport) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := waitLimiter(ctx, h.limiter); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(h.common.TimeoutSeconds)*time.Second)
	// Note: cancel is deferred to the reader's Close, the body must stay readable

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.url(remotePath), nil)
	if err != nil {
		cancel()
		return nil, &Error{Op: "get", Path: remotePath, Err: err}
	}
	req.Header.Set("User-Agent", h.config.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		return nil, classify("get", remotePath, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		status := fmt.Errorf("unexpected status %s", resp.Status)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, notFound("get", remotePath, status)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &Error{Op: "get", Path: remotePath, Temporary: true, Err: status}
		default:
			return nil, &Error{Op: "get", Path: remotePath, Err: status}
		}
	}

	return &contextAwareReader{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (h *HTTPTransport) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
