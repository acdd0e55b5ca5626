package domain

import "time"

// SavingsLog records the outcome of one successful transcode for accounting.
// It is written after the response is sent and never read on the hot path.
type SavingsLog struct {
	OriginHost    string
	Format        string
	InputBytes    int64
	OutputBytes   int64
	BytesSaved    int64
	PixelCount    int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
