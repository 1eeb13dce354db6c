package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/dj-oyu/live-detect-client/internal/config"
)

// Open builds the source selected by cfg.
func Open(cfg config.SourceConfig, timeout time.Duration) (Source, error) {
	switch cfg.Kind {
	case config.SourceFile, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file source requires source.path")
		}
		return NewFileSource(cfg.Path), nil
	case config.SourceSnapshot:
		if cfg.URL == "" {
			return nil, fmt.Errorf("snapshot source requires source.url")
		}
		return NewSnapshotSource(cfg.URL, timeout), nil
	case config.SourceScreen:
		r := cfg.Region
		return NewScreenSource(image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
