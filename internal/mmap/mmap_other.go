//go:build !unix

package mmap

import (
	"io"
	"os"
)

// mapFile reads the whole file; there is no kernel mapping to release.
func mapFile(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

func advise([]byte, Hint) error { return nil }
