// Package order defines the acquisition order descriptor and its lifecycle status.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire layouts for order dates and times-of-day.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Status is the processing state of an order request.
type Status int

const (
	StatusWaiting Status = iota + 1
	StatusRunning
	StatusDone
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusRunning:
		return "RUNNING"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ArchivedSource describes a one-shot or scheduled retrieval from remote
// storage instead of a live camera.
type ArchivedSource struct {
	AccessType string `json:"access_type"` // e.g. "S3"
	Bucket     string `json:"bucket,omitempty"`
	Key        string `json:"key,omitempty"`

	// ScheduleDownload delays the retrieval until the window start; when
	// false the worker fetches the object as soon as it is admitted.
	ScheduleDownload bool `json:"schedule_download,omitempty"`
	// Recurring keeps the worker cycling day after day; a non-recurring
	// source releases its pool slot after the first successful cycle.
	Recurring bool `json:"recurring,omitempty"`
}

// Order is the immutable configuration snapshot of one acquisition job.
type Order struct {
	CountryCode string `json:"country_code,omitempty"`
	CustomerID  int    `json:"customer_id,omitempty"`
	ContractID  int    `json:"contract_id,omitempty"`
	OrderID     int    `json:"order_id,omitempty"`
	StoreID     int    `json:"store_id,omitempty"`
	AreaCode    string `json:"area_code,omitempty"`
	CameraID    int    `json:"camera_id,omitempty"`

	UseArchived bool `json:"use_archived,omitempty"`

	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Timezone  string `json:"camera_timezone,omitempty"`

	CameraAddress  string  `json:"camera_address,omitempty"`
	CameraUsername string  `json:"camera_username,omitempty"`
	CameraPassword string  `json:"camera_password,omitempty"`
	CameraPort     int     `json:"camera_port,omitempty"`
	CameraTimeout  float64 `json:"camera_timeout,omitempty"` // seconds

	Archived *ArchivedSource `json:"archived_source,omitempty"`
}

// Defaults applied by Normalize when the descriptor omits them.
const (
	DefaultCameraPort    = 554
	DefaultCameraUser    = "admin"
	DefaultTimezone      = "UTC"
	DefaultCameraTimeout = 30.0
)

// Normalize fills in camera defaults on a submitted descriptor.
func (o *Order) Normalize() {
	if o.CameraPort == 0 {
		o.CameraPort = DefaultCameraPort
	}
	if o.CameraUsername == "" {
		o.CameraUsername = DefaultCameraUser
	}
	if o.Timezone == "" {
		o.Timezone = DefaultTimezone
	}
	if o.CameraTimeout <= 0 {
		o.CameraTimeout = DefaultCameraTimeout
	}
	if o.CountryCode == "" {
		o.CountryCode = "xa"
	}
}

// Validate rejects descriptors the scheduler cannot run.
func (o *Order) Validate() error {
	if _, err := time.Parse(DateLayout, o.StartDate); err != nil {
		return fmt.Errorf("start_date %q: %w", o.StartDate, err)
	}
	if _, err := time.Parse(DateLayout, o.EndDate); err != nil {
		return fmt.Errorf("end_date %q: %w", o.EndDate, err)
	}
	if _, err := time.Parse(TimeLayout, o.StartTime); err != nil {
		return fmt.Errorf("start_time %q: %w", o.StartTime, err)
	}
	if _, err := time.Parse(TimeLayout, o.EndTime); err != nil {
		return fmt.Errorf("end_time %q: %w", o.EndTime, err)
	}
	if o.EndDate < o.StartDate {
		return fmt.Errorf("end_date %q precedes start_date %q", o.EndDate, o.StartDate)
	}
	if o.EndTime <= o.StartTime {
		return fmt.Errorf("end_time %q is not after start_time %q", o.EndTime, o.StartTime)
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("camera_timezone %q: %w", o.Timezone, err)
	}
	if o.UseArchived {
		if o.Archived == nil {
			return fmt.Errorf("use_archived set without archived_source")
		}
		if o.Archived.AccessType == "" {
			return fmt.Errorf("archived_source.access_type must not be empty")
		}
	} else {
		if o.CameraAddress == "" {
			return fmt.Errorf("camera_address must not be empty for a live order")
		}
		if o.CameraPassword == "" {
			return fmt.Errorf("camera_password must not be empty for a live order")
		}
	}
	return nil
}

// NewWorkerID generates the worker identity for this order. The prefix keeps
// the customer/area/camera triple readable in logs; the uuid suffix makes it
// unique across resubmissions.
func (o *Order) NewWorkerID() string {
	return fmt.Sprintf("order_%d%s%d-%s",
		o.CustomerID, o.AreaCode, o.CameraID, uuid.NewString()[:8])
}

// BucketDir is the destination prefix an order's artifacts are uploaded under.
func (o *Order) BucketDir() string {
	return fmt.Sprintf("%s%04d%02d%02d",
		strings.ToLower(o.CountryCode), o.CustomerID, o.ContractID, o.OrderID)
}

// WindowStart resolves runDate plus the configured start time-of-day in the
// order's timezone to a UTC instant.
func (o *Order) WindowStart(runDate string) (time.Time, error) {
	return o.windowInstant(runDate, o.StartTime)
}

// WindowEnd resolves runDate plus the configured end time-of-day in the
// order's timezone to a UTC instant.
func (o *Order) WindowEnd(runDate string) (time.Time, error) {
	return o.windowInstant(runDate, o.EndTime)
}

func (o *Order) windowInstant(runDate, timeOfDay string) (time.Time, error) {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("camera_timezone %q: %w", o.Timezone, err)
	}
	local, err := time.ParseInLocation(DateLayout+" "+TimeLayout, runDate+" "+timeOfDay, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("window instant %q %q: %w", runDate, timeOfDay, err)
	}
	return local.UTC(), nil
}

// EndBoundary is the first instant past the order's last run date: midnight
// in the order's timezone of end_date + 1 day, as UTC. The end date itself
// is a run date.
func (o *Order) EndBoundary() (time.Time, error) {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("camera_timezone %q: %w", o.Timezone, err)
	}
	end, err := time.ParseInLocation(DateLayout, o.EndDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("end_date %q: %w", o.EndDate, err)
	}
	return end.AddDate(0, 0, 1).UTC(), nil
}

// CameraTimeoutDuration converts the descriptor's timeout seconds to a Duration.
func (o *Order) CameraTimeoutDuration() time.Duration {
	return time.Duration(o.CameraTimeout * float64(time.Second))
}

// RTSPURL builds the camera stream URL the capture session records from.
func (o *Order) RTSPURL() string {
	return fmt.Sprintf("rtsp://%s:%s@%s:%d/H.264",
		o.CameraUsername, o.CameraPassword, o.CameraAddress, o.CameraPort)
}

// OneShotArchived reports whether this order releases its pool slot after a
// single successful cycle.
func (o *Order) OneShotArchived() bool {
	return o.UseArchived && o.Archived != nil && !o.Archived.Recurring
}

// ImmediateArchived reports whether the first archived retrieval runs as soon
// as the worker is admitted instead of waiting for the window start.
func (o *Order) ImmediateArchived() bool {
	return o.UseArchived && o.Archived != nil && !o.Archived.ScheduleDownload
}
