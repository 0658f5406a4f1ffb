//go:build !linux

package image

import "fmt"

// dedupeRange is unsupported off Linux: FIDEDUPERANGE is a Linux-only
// btrfs ioctl, and Deduplicate is itself a btrfs-only operation.
func dedupeRange(src, dst string, chunkSize int64) (int64, error) {
	return 0, fmt.Errorf("image: dedupe is only supported on linux")
}
