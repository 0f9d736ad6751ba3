// Package synth defines the audio synthesis collaborator. Synthesis
// happens after the final reply text is fixed and never affects
// session state.
package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Artifact describes a produced audio file.
type Artifact struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Synthesizer converts reply text into an audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Artifact, error)
}

// Noop is a Synthesizer that produces nothing. Used when audio output
// is disabled and in tests.
type Noop struct{}

// Synthesize implements Synthesizer.
func (Noop) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	return nil, nil
}

// Local writes placeholder artifacts to a directory. It stands in for
// a real text-to-speech client in development.
type Local struct {
	Dir string
}

// NewLocal creates a Local synthesizer rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Local{Dir: dir}, nil
}

// Synthesize writes the reply text to a uniquely named file.
func (l *Local) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("session_response_%s_%s.mp3",
		uuid.New().String()[:8], time.Now().Format("20060102_150405"))
	path := filepath.Join(l.Dir, filename)

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("write audio artifact: %w", err)
	}

	return &Artifact{Filename: filename, Path: path}, nil
}
