// Package storage defines the cloud-storage collaborator contract and its
// S3 implementation.
package storage

import "context"

// Destination names where an artifact should live after upload.
type Destination struct {
	Bucket    string
	Directory string // prefix inside the bucket
	Name      string // object name; defaults to the local file's base name
}

// Source describes a stored object to retrieve for archived orders.
type Source struct {
	AccessType string // "S3" is the only built-in implementation
	Bucket     string
	Key        string
}

// Uploader pushes a local artifact to remote storage and returns its location.
type Uploader interface {
	Upload(ctx context.Context, localPath string, dest Destination) (string, error)
}

// Downloader fetches a stored object into a local temp file and returns its path.
type Downloader interface {
	Download(ctx context.Context, src Source) (string, error)
}

// Store combines both directions of the storage collaborator.
type Store interface {
	Uploader
	Downloader
}
