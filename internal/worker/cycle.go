package worker

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/inpointtech/acquisition/internal/capture"
	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/metrics"
	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/storage"
)

// Capturer runs one live capture window and returns the merged artifact path.
type Capturer interface {
	Run(ctx context.Context, req capture.Request) (string, error)
}

// Deliverer hands a finished artifact to the downstream consumer.
type Deliverer interface {
	Deliver(ctx context.Context, requestID int64, ord order.Order, artifact string) (string, error)
}

// Pipeline is the CycleRunner wired into production workers. One cycle either
// captures the order's daily window from the live camera or retrieves the
// archived object, then runs the delivery handshake on the resulting artifact.
type Pipeline struct {
	DataDir  string
	Capture  Capturer
	Download storage.Downloader
	Deliver  Deliverer
}

func NewPipeline(dataDir string, capt Capturer, dl storage.Downloader, del Deliverer) *Pipeline {
	return &Pipeline{DataDir: dataDir, Capture: capt, Download: dl, Deliver: del}
}

func (p *Pipeline) RunCycle(ctx context.Context, req Request, runDate string) error {
	logger := log.WithComponentFromContext(ctx, "cycle")

	var (
		artifact string
		err      error
	)
	if req.Order.UseArchived {
		artifact, err = p.retrieveArchived(ctx, req.Order)
	} else {
		artifact, err = p.captureLive(ctx, req, runDate)
	}
	if err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return err
	}

	if artifact == "" {
		// The whole window was lost to an outage. Nothing to deliver.
		metrics.CycleTotal.WithLabelValues("empty").Inc()
		logger.Warn().
			Str("event", "cycle.empty").
			Str("run_date", runDate).
			Msg("no usable footage for window, skipping delivery")
		return nil
	}

	if _, err := p.Deliver.Deliver(ctx, req.ID, req.Order, artifact); err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("deliver artifact: %w", err)
	}

	metrics.CycleTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Str("event", "cycle.complete").
		Str("run_date", runDate).
		Str(log.FieldArtifact, artifact).
		Msg("cycle complete")
	return nil
}

func (p *Pipeline) captureLive(ctx context.Context, req Request, runDate string) (string, error) {
	start, err := req.Order.WindowStart(runDate)
	if err != nil {
		return "", fmt.Errorf("resolve window start: %w", err)
	}
	end, err := req.Order.WindowEnd(runDate)
	if err != nil {
		return "", fmt.Errorf("resolve window end: %w", err)
	}

	creq := capture.Request{
		Dir:          filepath.Join(p.DataDir, "videos", req.WorkerID, runDate),
		StreamURL:    req.Order.RTSPURL(),
		ProbeAddress: net.JoinHostPort(req.Order.CameraAddress, strconv.Itoa(req.Order.CameraPort)),
		Start:        start,
		End:          end,
		Timeout:      req.Order.CameraTimeoutDuration(),
	}
	return p.Capture.Run(ctx, creq)
}

func (p *Pipeline) retrieveArchived(ctx context.Context, ord order.Order) (string, error) {
	if ord.Archived == nil {
		return "", fmt.Errorf("archived order without source descriptor")
	}
	path, err := p.Download.Download(ctx, storage.Source{
		AccessType: ord.Archived.AccessType,
		Bucket:     ord.Archived.Bucket,
		Key:        ord.Archived.Key,
	})
	if err != nil {
		return "", fmt.Errorf("download archived source: %w", err)
	}
	return path, nil
}
