package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"rule-crawler/pkg/utils"
)

// PageFetcher retrieves the body of a page as text.
// The context deadline bounds the whole fetch, body read included.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close()
}

// HTTPFetcher is the PageFetcher backed by a shared http.Client. It makes a
// single attempt per URL; failures are returned to the caller, which skips the URL.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64 // 0 = unlimited
	log         *logrus.Entry
}

// NewHTTPFetcher creates a fetcher over client. Every request carries userAgent.
func NewHTTPFetcher(client *http.Client, userAgent string, maxBodySize int64, log *logrus.Entry) *HTTPFetcher {
	return &HTTPFetcher{
		client:      client,
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
		log:         log,
	}
}

// Fetch performs a GET and returns the decoded body. Errors wrap utils.ErrFetch
// plus a finer sentinel for status, request and body failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	reqLog := f.log.WithField("url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %v", utils.ErrFetch, utils.ErrRequestCreation, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		// Network-level errors (DNS, TCP, TLS, context deadline)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reqLog.Debugf("Fetch cancelled or timed out: %v", err)
		}
		return "", fmt.Errorf("%w: %w", utils.ErrFetch, err)
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
	case statusCode >= 500:
		return "", fmt.Errorf("%w: %w: status %d %s", utils.ErrFetch, utils.ErrServerHTTPError, statusCode, resp.Status)
	case statusCode >= 400:
		return "", fmt.Errorf("%w: %w: status %d %s", utils.ErrFetch, utils.ErrClientHTTPError, statusCode, resp.Status)
	default:
		// 1xx, or 3xx that the client did not follow
		return "", fmt.Errorf("%w: %w: status %d %s", utils.ErrFetch, utils.ErrOtherHTTPError, statusCode, resp.Status)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrFetch, err)
	}
	reqLog.WithFields(logrus.Fields{"status_code": statusCode, "bytes": len(body)}).Debug("Fetched")
	return body, nil
}

// readBody reads at most maxBodySize bytes, converting the declared charset to UTF-8
func (f *HTTPFetcher) readBody(resp *http.Response) (string, error) {
	var r io.Reader = resp.Body
	if f.maxBodySize > 0 {
		// One extra byte distinguishes "exactly at limit" from "over limit"
		r = io.LimitReader(r, f.maxBodySize+1)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if f.maxBodySize > 0 && int64(len(raw)) > f.maxBodySize {
		return "", fmt.Errorf("%w: body exceeds max_page_size_bytes (%d)", utils.ErrResponseBodyRead, f.maxBodySize)
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		// Unknown charset label; fall back to the raw bytes
		return string(raw), nil
	}
	decoded, err := io.ReadAll(utf8Reader)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

// Close releases idle pooled connections
func (f *HTTPFetcher) Close() {
	f.client.CloseIdleConnections()
}
