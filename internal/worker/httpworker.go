package worker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/forestshield/core/internal/errs"
)

// HTTPWorker invokes a task worker deployed as an HTTP JSON endpoint —
// the production binding for the opaque compute workers spec §6
// declares contracts for (search_images, vegetation_analyzer,
// k_selector, cluster_trainer, visualization_generator,
// results_consolidator, notifier) but leaves unimplemented.
type HTTPWorker struct {
	URL    string
	Client *http.Client
}

// NewHTTPWorker builds a worker bound to url with a bounded-timeout
// client; AO's own context deadline still governs cancellation, this
// timeout is a backstop against a worker that never responds.
func NewHTTPWorker(url string) *HTTPWorker {
	return &HTTPWorker{URL: url, Client: &http.Client{Timeout: 5 * time.Minute}}
}

func (w *HTTPWorker) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "build worker request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "worker request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "read worker response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errs.Newf(errs.KindTransient, "worker returned %d: %s", resp.StatusCode, body)
	case resp.StatusCode >= 400:
		return nil, errs.Newf(errs.KindValidation, "worker returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
