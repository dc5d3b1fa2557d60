// Package backend provides the key-value stores that hold a task snapshot.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/amirbrooks/tasker-engine/internal/store"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"

	DefaultKey = "taskManagerData"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrQuotaExceeded     = errors.New("quota exceeded")
)

// NormalizeFormat maps user input to a known format, defaulting to JSON.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func encode(format string, s store.Snapshot) ([]byte, error) {
	if s.Tasks == nil {
		s.Tasks = []store.Task{}
	}
	switch format {
	case FormatYAML:
		return yaml.Marshal(&s)
	case FormatJSON, "":
		return sonic.ConfigStd.MarshalIndent(&s, "", "  ")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decode(format string, b []byte) (store.Snapshot, error) {
	var s store.Snapshot
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(b, &s)
	case FormatJSON, "":
		err = sonic.ConfigStd.Unmarshal(b, &s)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return store.Snapshot{}, err
	}
	if s.Tasks == nil {
		s.Tasks = []store.Task{}
	}
	return s, nil
}
