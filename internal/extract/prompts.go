package extract

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed prompts/*.txt
var embeddedPrompts embed.FS

// subtotalInstruction is appended to every chunk prompt so the model reads
// the per-location subtotal rather than bill-wide totals.
const subtotalInstruction = `Extract the total due for the sub-account from its specific "Subtotal" line within the chunk. ` +
	`This is typically a single line showing the total for that sub-account, not the master account's total. ` +
	`Ignore any lines that appear to be summaries for the entire bill, such as "CURRENT CHARGES SUBTOTAL" or "BALANCE DUE".`

// Prompts holds the instruction templates sent to the model.
type Prompts struct {
	SLB        string
	MLB        string
	Validation string
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	p, err := LoadPrompts("")
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPrompts returns the built-in templates, replaced by slb.txt, mlb.txt
// and validation.txt from dir when those files exist.
func LoadPrompts(dir string) (Prompts, error) {
	var p Prompts
	for name, dst := range map[string]*string{
		"slb.txt":        &p.SLB,
		"mlb.txt":        &p.MLB,
		"validation.txt": &p.Validation,
	} {
		text, err := readPrompt(dir, name)
		if err != nil {
			return Prompts{}, err
		}
		*dst = strings.TrimSpace(text)
	}
	return p, nil
}

func readPrompt(dir, name string) (string, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
	}

	data, err := embeddedPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("missing built-in prompt %s: %w", name, err)
	}
	return string(data), nil
}

// SinglePrompt builds the prompt for a whole single-location bill.
func (p Prompts) SinglePrompt(content string) string {
	return p.SLB + "\n\nDocument content:\n" + content
}

// ChunkPrompt builds the prompt for one location chunk. Only the chunk
// text differs between the chunks of a document.
func (p Prompts) ChunkPrompt(chunkText string) string {
	return p.MLB + "\n\n" + subtotalInstruction + "\n\nDocument chunk: " + chunkText
}

// ValidationPrompt builds the prompt for model-based review of a record.
func (p Prompts) ValidationPrompt(recordJSON string) string {
	return p.Validation + "\n\nExtracted record:\n" + recordJSON
}
