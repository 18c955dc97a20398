package iac

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// progressWriter streams engine progress into the structured log and keeps
// a bounded tail for error classification.
type progressWriter struct {
	logger zerolog.Logger

	mu   sync.Mutex
	tail []string
}

// tailLines bounds how much engine output is retained for classification.
const tailLines = 50

func (w *progressWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}

	w.logger.Debug().Msg(entry)

	w.mu.Lock()
	w.tail = append(w.tail, entry)
	if len(w.tail) > tailLines {
		w.tail = w.tail[len(w.tail)-tailLines:]
	}
	w.mu.Unlock()

	return len(p), nil
}

// Tail returns the retained engine output.
func (w *progressWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.tail, "\n")
}
