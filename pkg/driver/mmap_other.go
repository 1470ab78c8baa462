//go:build !unix

package driver

// mapFile falls back to heap memory where shared mappings are unavailable.
func mapFile(path string, size int) (*mapping, error) {
	return heapMapping(size), nil
}
