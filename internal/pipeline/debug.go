package pipeline

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
)

// StageCapture is one recorded intermediate image.
type StageCapture struct {
	Image string
	Name  string
	Stage Stage
	Out   image.Image
}

// DebugContext collects intermediate stage outputs for inspection.
type DebugContext struct {
	mu     sync.Mutex
	stages []StageCapture
}

// Capture records buf as an image; it satisfies CaptureFunc.
func (d *DebugContext) Capture(img string, stage Stage, buf pixbuf.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stages = append(d.stages, StageCapture{
		Image: img,
		Name:  fmt.Sprintf("%02d_%s", stageIndex(stage)+1, stage),
		Stage: stage,
		Out:   buf.ToNRGBA(),
	})
}

// SortedStages returns the captures ordered by image name, then pipeline order.
func (d *DebugContext) SortedStages() []StageCapture {
	d.mu.Lock()
	out := append([]StageCapture(nil), d.stages...)
	d.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Image != out[j].Image {
			return out[i].Image < out[j].Image
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func stageIndex(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return len(Stages)
}
