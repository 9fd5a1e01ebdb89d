package artifact

import (
	"fmt"
	"os"
	"regexp"
)

// pageMarker matches page objects ("/Type /Page") but not the page tree ("/Pages").
var pageMarker = regexp.MustCompile(`/Page\W`)

// CountPages counts page objects in raw PDF bytes.
func CountPages(pdf []byte) int {
	return len(pageMarker.FindAllIndex(pdf, -1))
}

// CountPagesFile reads path and counts its page objects.
func CountPagesFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return CountPages(data), nil
}
