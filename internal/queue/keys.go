package queue

import "fmt"

// Key scheme shared with the producer writing into the same Redis instance.
// Must stay bit-exact for interop.

// PendingKey is the per-user list of image ids awaiting collection.
func PendingKey(userID int64) string {
	return fmt.Sprintf("pending:%d", userID)
}

// ProcessingKey is the per-user list of image ids currently in flight.
func ProcessingKey(userID int64) string {
	return fmt.Sprintf("processing:%d", userID)
}

// ImageKey addresses the raw image bytes for one upload. TTL-bearing.
func ImageKey(userID, imageID int64) string {
	return fmt.Sprintf("user:%d:img:%d", userID, imageID)
}

// StatusKey holds the coarse per-image processing status string.
func StatusKey(userID, imageID int64) string {
	return fmt.Sprintf("screenshot:status:%d:%d", userID, imageID)
}
