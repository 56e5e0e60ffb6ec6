//go:build linux

package buffers

import "golang.org/x/sys/unix"

func allocOne(size int) ([]byte, bool, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func freeOne(b []byte, mapped bool) error {
	if !mapped {
		return nil
	}
	return unix.Munmap(b)
}
