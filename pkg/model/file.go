package model

import "time"

// FileRecord describes one file stored by the file relay.
type FileRecord struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"` // hex BLAKE2b-256 of the content
	Uploader   string    `json:"uploader"` // remote address of the uploading connection
	UploadedAt time.Time `json:"uploaded_at"`
	Downloads  int64     `json:"downloads"`
}
