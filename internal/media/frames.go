package media

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

// FramePattern names extracted and inpainted frames: 1-indexed, six digits.
const FramePattern = "frame_%06d.png"

var frameRe = regexp.MustCompile(`^frame_(\d{6})\.png$`)

// FrameName returns the file name of the i-th frame (1-indexed).
func FrameName(i int) string {
	return fmt.Sprintf(FramePattern, i)
}

// ListFrames returns the frame file names in dir in order. The sequence must
// start at 1 and have no gaps, since frame position is encoded in the name.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	idx := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := frameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		idx = append(idx, n)
	}
	sort.Ints(idx)

	names := make([]string, len(idx))
	for i, n := range idx {
		if n != i+1 {
			return nil, fmt.Errorf("frame sequence gap: expected %s, found %s", FrameName(i+1), FrameName(n))
		}
		names[i] = FrameName(n)
	}
	return names, nil
}
