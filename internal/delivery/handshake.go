// Package delivery hands a finished artifact to the downstream processing
// pipeline: milestone, upload, then a trigger call retried until accepted.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/metrics"
	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/storage"
	"github.com/inpointtech/acquisition/internal/store"
)

// MilestoneRecorder is the durable milestone sink.
type MilestoneRecorder interface {
	RecordMilestone(ctx context.Context, requestID int64, milestoneID int) error
}

// RetryPolicy bounds the trigger retry loop. MaxAttempts == 0 retries until
// the downstream accepts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultMaxDelay caps the backoff when a policy leaves MaxDelay unset.
const DefaultMaxDelay = time.Hour

// Delay returns the backoff before the given 1-based retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		// d <= 0 means the doubling wrapped around.
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// ErrNotAcknowledged is returned when the retry budget runs out before the
// downstream accepts the trigger.
type ErrNotAcknowledged struct {
	Attempts int
	Last     error
}

func (e *ErrNotAcknowledged) Error() string {
	return fmt.Sprintf("delivery: trigger not acknowledged after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrNotAcknowledged) Unwrap() error { return e.Last }

// Handshake uploads an artifact and notifies the downstream pipeline.
type Handshake struct {
	Milestones MilestoneRecorder
	Uploader   storage.Uploader

	TriggerURL string
	APIKey     string
	Bucket     string

	Policy RetryPolicy

	HTTP  *http.Client
	Sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Handshake with a default HTTP client.
func New(milestones MilestoneRecorder, uploader storage.Uploader, triggerURL, apiKey, bucket string, policy RetryPolicy) *Handshake {
	return &Handshake{
		Milestones: milestones,
		Uploader:   uploader,
		TriggerURL: triggerURL,
		APIKey:     apiKey,
		Bucket:     bucket,
		Policy:     policy,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		Sleep:      ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// payload is the JSON body POSTed to the downstream trigger.
type payload struct {
	order.Order
	RequestID        int64  `json:"request_id"`
	ArtifactLocation string `json:"artifact_location"`
}

// Deliver records the acquisition milestone, uploads artifact, then retries
// the trigger call per the policy. The local artifact copy is removed only
// after the downstream acknowledged the trigger.
func (h *Handshake) Deliver(ctx context.Context, requestID int64, ord order.Order, artifact string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "delivery")

	if err := h.Milestones.RecordMilestone(ctx, requestID, store.MilestoneAcquisition); err != nil {
		return "", fmt.Errorf("record acquisition milestone: %w", err)
	}
	logger.Info().
		Str("event", "delivery.milestone").
		Int("milestone", store.MilestoneAcquisition).
		Msg("acquisition milestone recorded")

	location, err := h.Uploader.Upload(ctx, artifact, storage.Destination{
		Bucket:    h.Bucket,
		Directory: ord.BucketDir(),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	body, err := json.Marshal(payload{Order: ord, RequestID: requestID, ArtifactLocation: location})
	if err != nil {
		return "", fmt.Errorf("marshal trigger payload: %w", err)
	}

	attempt := 0
	for {
		attempt++
		err := h.trigger(ctx, body)
		if err == nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues("ok").Inc()
			logger.Info().
				Str("event", "delivery.triggered").
				Int("attempts", attempt).
				Str(log.FieldArtifact, location).
				Msg("downstream trigger acknowledged")
			if rmErr := os.Remove(artifact); rmErr != nil {
				logger.Warn().Err(rmErr).Str(log.FieldPath, artifact).Msg("failed to remove delivered artifact")
			}
			return location, nil
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).
			Str("event", "delivery.trigger_failed").
			Int("attempt", attempt).
			Msg("downstream trigger failed")

		if h.Policy.MaxAttempts > 0 && attempt >= h.Policy.MaxAttempts {
			return "", &ErrNotAcknowledged{Attempts: attempt, Last: err}
		}
		if serr := h.Sleep(ctx, h.Policy.Delay(attempt)); serr != nil {
			return "", serr
		}
	}
}

// trigger POSTs the payload once. Any transport error or non-2xx/3xx status
// counts as a failure.
func (h *Handshake) trigger(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.TriggerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", h.APIKey)

	resp, err := h.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("post trigger: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("trigger returned status %d", resp.StatusCode)
	}
	return nil
}
