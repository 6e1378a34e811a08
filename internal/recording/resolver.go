package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps the raw MixMonitor wav path captured during a call to the
// published mp3 under the archive root. Conversion itself happens out of
// band; the resolver only predicts and verifies the final location.
//
// Recordings are archived as <mp3Dir>/<Y>/<M>/<D>/<name>.mp3, mirroring the
// tail of the monitor spool layout.
type Resolver struct {
	mp3Dir string
	log    *slog.Logger
}

func NewResolver(mp3Dir string, log *slog.Logger) *Resolver {
	return &Resolver{mp3Dir: mp3Dir, log: log}
}

// Resolve returns the archive mp3 path for wavPath, or "" when the path
// cannot be derived or the file does not exist yet.
func (r *Resolver) Resolve(ctx context.Context, wavPath string) string {
	if wavPath == "" || r.mp3Dir == "" {
		return ""
	}
	rel := dateTail(wavPath)
	if rel == "" {
		return ""
	}
	mp3 := filepath.Join(r.mp3Dir, strings.TrimSuffix(rel, filepath.Ext(rel))+".mp3")
	if _, err := os.Stat(mp3); err != nil {
		if r.log != nil {
			r.log.DebugContext(ctx, "recording not yet archived", "wav", wavPath, "mp3", mp3)
		}
		return ""
	}
	return mp3
}

// dateTail extracts the trailing Y/M/D/name segment from a monitor path such
// as /var/spool/asterisk/monitor/2026/08/29/q-001-1756450000.1.wav.
func dateTail(p string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")
	if len(parts) < 4 {
		return ""
	}
	tail := parts[len(parts)-4:]
	if len(tail[0]) != 4 || !digits(tail[0]) || !digits(tail[1]) || !digits(tail[2]) {
		return ""
	}
	return filepath.Join(tail...)
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
