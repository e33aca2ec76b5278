package render

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFProbe reads media durations from file metadata.
type FFProbe struct {
	bin string
}

func NewFFProbe() *FFProbe {
	return &FFProbe{bin: "ffprobe"}
}

func (p *FFProbe) Duration(path string) (float64, error) {
	out, err := exec.Command(p.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	return dur, nil
}
