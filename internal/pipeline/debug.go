package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// debugDump writes intermediate results of one document into
// <debugDir>/<document stem>/. It is a no-op without a debug dir.
type debugDump struct {
	dir string
	log zerolog.Logger
}

func (p *Processor) newDebug(document string, log zerolog.Logger) *debugDump {
	if p.debugDir == "" {
		return &debugDump{log: log}
	}
	stem := strings.TrimSuffix(document, filepath.Ext(document))
	return &debugDump{dir: filepath.Join(p.debugDir, stem), log: log}
}

func (d *debugDump) json(name string, v any) {
	if d.dir == "" {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		d.log.Warn().Err(err).Str("file", name).Msg("Failed to encode debug dump")
		return
	}
	d.write(name, data)
}

func (d *debugDump) text(name, s string) {
	if d.dir == "" {
		return
	}
	d.write(name, []byte(s))
}

func (d *debugDump) write(name string, data []byte) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		d.log.Warn().Err(err).Str("dir", d.dir).Msg("Failed to create debug directory")
		return
	}
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		d.log.Warn().Err(err).Str("file", path).Msg("Failed to write debug dump")
		return
	}
	d.log.Debug().Str("file", path).Msg("Debug dump written")
}
