// Package docstore persists small JSON documents on disk. Writes replace the
// target atomically and unreadable documents are quarantined next to it, so a
// crash or a corrupt file never costs more than a fallback to empty state.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MimeLyc/fetchbot/pkg/log"
)

const corruptTimeLayout = "2006-01-02T15:04:05.000Z07:00"

type options struct {
	label        string
	now          func() time.Time
	onQuarantine func(path, backup string)
	schema       *jsonschema.Schema
}

// Option tunes how a document is read.
type Option func(*options)

// WithLabel names the document in log lines instead of its path.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithQuarantineHook is called after a corrupt document was renamed aside.
func WithQuarantineHook(fn func(path, backup string)) Option {
	return func(o *options) { o.onQuarantine = fn }
}

// WithSchema treats content that parses but does not validate against
// schema as corrupt.
func WithSchema(schema *jsonschema.Schema) Option {
	return func(o *options) { o.schema = schema }
}

func buildOptions(path string, opts []Option) options {
	o := options{label: path, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReadJSON loads the document at path. A missing file yields fallback without
// any report. Content that does not decode (or fails the schema set with
// WithSchema) is quarantined and fallback is returned; other read failures
// are logged and also yield fallback.
func ReadJSON[T any](path string, fallback T, opts ...Option) T {
	o := buildOptions(path, opts)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to read %s: %v", o.label, err)
		}
		return fallback
	}

	value, err := decode[T](data, o.schema)
	if err != nil {
		log.Warn("Failed to parse %s: %v", o.label, err)
		backup, qerr := Quarantine(path, o.now())
		if qerr != nil {
			log.Error("Failed to quarantine %s: %v", o.label, qerr)
			return fallback
		}
		log.Warn("Quarantined corrupt %s to %s", o.label, backup)
		if o.onQuarantine != nil {
			o.onQuarantine(path, backup)
		}
		return fallback
	}
	return value
}

func decode[T any](data []byte, schema *jsonschema.Schema) (T, error) {
	var value T
	if schema != nil {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return value, err
		}
		if err := schema.Validate(raw); err != nil {
			return value, err
		}
	}
	err := json.Unmarshal(data, &value)
	return value, err
}

// CompileSchema compiles a JSON schema given as source text.
func CompileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name, src string) *jsonschema.Schema {
	schema, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return schema
}

// WriteJSON serialises value and atomically replaces path with it.
func WriteJSON(path string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

func marshal(value any) ([]byte, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteFileAtomic writes data to a uniquely named temp file in the directory
// of path and renames it onto path. The temp file is removed on failure.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath := TempPath(path)
	if err := writeAndSync(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// TempPath returns a per-attempt temp file name next to path.
func TempPath(path string) string {
	return filepath.Join(
		filepath.Dir(path),
		fmt.Sprintf(".%s.%d.%d.%s.tmp", filepath.Base(path), os.Getpid(), time.Now().UnixNano(), uuid.NewString()),
	)
}

// CorruptPath returns <path>.corrupt.<timestamp> with colons replaced so the
// name stays valid on every filesystem.
func CorruptPath(path string, at time.Time) string {
	stamp := strings.ReplaceAll(at.UTC().Format(corruptTimeLayout), ":", "-")
	return path + ".corrupt." + stamp
}

// Quarantine renames path aside and returns the new name. The file is never
// deleted: when a backup with the same stamp exists a ".N" suffix is added.
func Quarantine(path string, at time.Time) (string, error) {
	base := CorruptPath(path, at)
	backup := base
	for n := 1; ; n++ {
		if _, err := os.Lstat(backup); errors.Is(err, fs.ErrNotExist) {
			break
		} else if err != nil {
			return "", err
		}
		backup = fmt.Sprintf("%s.%d", base, n)
	}
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}
