package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PayloadFile keeps the most recent captured payload, pretty-printed, at a
// fixed path. Each write replaces the previous content.
type PayloadFile struct {
	mu   sync.Mutex
	path string
}

func NewPayloadFile(path string) *PayloadFile {
	return &PayloadFile{path: path}
}

// Path returns the file location.
func (p *PayloadFile) Path() string {
	return p.path
}

// WritePayload indents body when it is valid JSON and writes it atomically.
func (p *PayloadFile) WritePayload(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("payload: create output dir: %w", err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(body)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("payload: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("payload: rename to %q: %w", p.path, err)
	}
	return nil
}
