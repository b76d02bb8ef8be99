// Package export pushes persisted yield batches to an external webhook for
// downstream dashboards.
package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/model"
)

// WebhookExporter buffers batches and flushes them to a webhook URL on an
// interval. A failed flush drops the buffered batches after logging; the
// store remains the source of truth.
type WebhookExporter struct {
	url        string
	httpClient *http.Client

	mu      sync.Mutex
	pending []model.YieldBatch

	flushInterval time.Duration
	cancel        context.CancelFunc
}

// NewWebhookExporter creates and starts an exporter. Returns nil when url is
// empty so callers can pass the result straight to the scheduler.
func NewWebhookExporter(url string, flushInterval time.Duration) *WebhookExporter {
	if url == "" {
		return nil
	}

	e := &WebhookExporter{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				IdleConnTimeout: 90 * time.Second,
			},
		},
		flushInterval: flushInterval,
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.loop(ctx)

	logrus.Infof("Webhook exporter initialized: %s", url)
	return e
}

// Export queues a batch for the next flush.
func (e *WebhookExporter) Export(batch model.YieldBatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, batch)
}

// Close stops the background flusher and sends anything still pending.
func (e *WebhookExporter) Close() {
	e.cancel()
	e.flush()
}

func (e *WebhookExporter) loop(ctx context.Context) {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *WebhookExporter) flush() {
	e.mu.Lock()
	batches := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"batches":     batches,
		"exported_at": time.Now().UTC().Unix(),
	})
	if err != nil {
		logrus.WithField("error", err).Error("Encoding export payload failed")
		return
	}

	resp, err := e.httpClient.Post(e.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		logrus.WithField("error", err).Warnf("Exporting %d batches failed", len(batches))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logrus.Warnf("Export webhook returned status %d", resp.StatusCode)
		return
	}

	logrus.Debugf("Exported %d batches", len(batches))
}
