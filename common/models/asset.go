package models

// AssetRef identifies a staged blob and where it can be fetched publicly
type AssetRef struct {
	// Object path inside the bucket, e.g. 'photos/0b9c...e1.jpg'
	ID string `json:"id"`

	// Stable public URL recorded on the ledger
	URL string `json:"url"`

	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`

	// Content hash (sha256:abc123...)
	Digest string `json:"digest"`
}

// Asset folders, one per purpose
const (
	FolderPhotos   = "photos"
	FolderCerts    = "certs"
	FolderContests = "contests"
	FolderTransfer = "transfer"
	FolderUpdates  = "updates"
)
