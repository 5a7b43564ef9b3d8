package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
)

const (
	abiDirName        = "abis"
	customFileName    = "custom.json"
	retrievedFileName = "retrieved.json"
	namesFileName     = "contract-names.json"
)

// FileStore keeps state as JSON documents in a directory:
//
//	abis/<address>.json     verified ABI per contract
//	abis/custom.json        synthesized entries
//	retrieved.json          address -> unix time of the lookup
//	contract-names.json     address -> contract name
type FileStore struct {
	log logrus.FieldLogger
	dir string

	mu sync.Mutex
}

// NewFileStore creates the directory layout if needed.
func NewFileStore(log logrus.FieldLogger, dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, abiDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FileStore{
		log: log.WithField("component", "store/file"),
		dir: dir,
	}, nil
}

func (s *FileStore) LoadEntries(_ context.Context) ([]registry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := os.ReadDir(filepath.Join(s.dir, abiDirName))
	if err != nil {
		return nil, fmt.Errorf("failed to list abis: %w", err)
	}

	names := make([]string, 0, len(files))

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" || f.Name() == customFileName {
			continue
		}

		names = append(names, f.Name())
	}

	sort.Strings(names)

	// custom.json last so verified argument names take precedence.
	names = append(names, customFileName)

	var entries []registry.Entry

	for _, name := range names {
		loaded, err := s.readEntries(filepath.Join(s.dir, abiDirName, name))
		if err != nil {
			s.log.WithError(err).WithField("file", name).Warn("Skipping unreadable abi file")

			continue
		}

		entries = append(entries, loaded...)
	}

	return entries, nil
}

func (s *FileStore) SaveABI(_ context.Context, address string, entries []registry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeJSON(filepath.Join(s.dir, abiDirName, NormalizeAddress(address)+".json"), entries)
}

func (s *FileStore) AppendCustom(_ context.Context, entries []registry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, abiDirName, customFileName)

	existing, err := s.readEntries(path)
	if err != nil {
		s.log.WithError(err).Warn("Existing custom abi unreadable, starting over")

		existing = nil
	}

	return s.writeJSON(path, append(existing, entries...))
}

func (s *FileStore) LoadAttempted(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readAttempted()
}

func (s *FileStore) MarkAttempted(_ context.Context, attempts map[string]time.Time) error {
	if len(attempts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readAttempted()
	if err != nil {
		return err
	}

	out := make(map[string]int64, len(existing)+len(attempts))
	for addr, at := range existing {
		out[addr] = at.Unix()
	}

	for addr, at := range attempts {
		out[NormalizeAddress(addr)] = at.Unix()
	}

	return s.writeJSON(filepath.Join(s.dir, retrievedFileName), out)
}

func (s *FileStore) LoadNames(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readNames()
}

func (s *FileStore) SaveNames(_ context.Context, names map[string]string) error {
	if len(names) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readNames()
	if err != nil {
		return err
	}

	for addr, name := range names {
		existing[NormalizeAddress(addr)] = name
	}

	return s.writeJSON(filepath.Join(s.dir, namesFileName), existing)
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readEntries(path string) ([]registry.Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return registry.ParseABI(data)
}

// readAttempted accepts both unix timestamps and the legacy boolean flag.
func (s *FileStore) readAttempted() (map[string]time.Time, error) {
	raw := map[string]json.RawMessage{}
	if err := s.readJSON(filepath.Join(s.dir, retrievedFileName), &raw); err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(raw))

	for addr, value := range raw {
		var unix int64
		if err := json.Unmarshal(value, &unix); err == nil {
			out[NormalizeAddress(addr)] = time.Unix(unix, 0)

			continue
		}

		var flag bool
		if err := json.Unmarshal(value, &flag); err == nil && flag {
			out[NormalizeAddress(addr)] = time.Unix(0, 0)
		}
	}

	return out, nil
}

func (s *FileStore) readNames() (map[string]string, error) {
	names := map[string]string{}
	if err := s.readJSON(filepath.Join(s.dir, namesFileName), &names); err != nil {
		return nil, err
	}

	return names, nil
}

// readJSON leaves dst untouched when the file does not exist.
func (s *FileStore) readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return nil
}

// writeJSON replaces path atomically.
func (s *FileStore) writeJSON(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), ".json")+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
