package local

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/executor-builder/internal/models"
)

// LocalBuildRepository persists build records in JSON files under BaseDir.
type LocalBuildRepository struct {
	BaseDir string
}

// Save writes the build record to disk using its build id as the filename.
func (rep *LocalBuildRepository) Save(record models.BuildRecord) error {
	if rep.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if record.BuildID == "" {
		return errors.New("build id is required")
	}

	if err := os.MkdirAll(rep.BaseDir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(rep.BaseDir, record.BuildID+".json")
	return writeFileAtomic(rep.BaseDir, path, payload)
}

// writeFileAtomic replaces path through a rename so readers never observe a
// partially written file. The temp file has no .json suffix and is skipped by List.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".build-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Get returns the build record with the provided id, or nil when unknown.
func (rep *LocalBuildRepository) Get(buildID string) (*models.BuildRecord, error) {
	if buildID == "" {
		return nil, errors.New("build id is required")
	}
	if strings.ContainsAny(buildID, `/\`) {
		return nil, errors.New("invalid build id")
	}
	return rep.loadRecord(filepath.Join(rep.BaseDir, buildID+".json"))
}

// List returns the most recent build records first, at most limit of them
// when limit is positive.
func (rep *LocalBuildRepository) List(limit int) ([]models.BuildRecord, error) {
	entries, err := os.ReadDir(rep.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []models.BuildRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		record, err := rep.loadRecord(filepath.Join(rep.BaseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, *record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (rep *LocalBuildRepository) loadRecord(path string) (*models.BuildRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var record models.BuildRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
