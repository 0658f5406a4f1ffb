//go:build linux

package image

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// dedupeRange attempts to deduplicate up to chunkSize bytes at a time
// between src and dst via the FIDEDUPERANGE ioctl (spec.md §4.2
// "Deduplication"), returning the total bytes the kernel reports as
// deduped. Grounded on golang.org/x/sys/unix's IoctlFileDedupeRange
// wrapper, already in the teacher's indirect dependency graph via
// podman's own use of x/sys for namespace/mount syscalls.
func dedupeRange(src, dst string, chunkSize int64) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()
	dstFile, err := os.Open(dst)
	if err != nil {
		return 0, err
	}
	defer dstFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	var total int64
	for offset := int64(0); offset < size; offset += chunkSize {
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		req := &unix.FileDedupeRange{
			Src_offset: uint64(offset),
			Src_length: uint64(length),
			Info: []unix.FileDedupeRangeInfo{
				{
					Dest_fd:     int64(dstFile.Fd()),
					Dest_offset: uint64(offset),
				},
			},
		}
		if err := unix.IoctlFileDedupeRange(int(srcFile.Fd()), req); err != nil {
			return total, fmt.Errorf("image: FIDEDUPERANGE %s -> %s at %d: %w", src, dst, offset, err)
		}
		total += int64(req.Info[0].Bytes_deduped)
	}
	return total, nil
}
