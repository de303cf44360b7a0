// Package export publishes experience splits and database archives to object
// storage so that training jobs can pick them up.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	"github.com/google/uuid"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
	"github.com/autosteer/autosteer/internal/results"
	"github.com/autosteer/autosteer/internal/storage"
)

const (
	manifestName = "manifest.json"
	trainName    = "train.jsonl.sz"
	testName     = "test.jsonl.sz"

	// ManifestVersion is bumped when the dataset layout changes.
	ManifestVersion = 1
)

// Manifest describes one exported dataset.
type Manifest struct {
	Version       int       `json:"version"`
	ID            string    `json:"id"`
	Suite         string    `json:"suite"`
	Benchmark     string    `json:"benchmark"`
	TrainingRatio float64   `json:"training_ratio"`
	CreatedAt     time.Time `json:"created_at"`
	Train         Part      `json:"train"`
	Test          Part      `json:"test"`
}

// Part is one snappy-framed JSON-lines file of a dataset.
type Part struct {
	Object   string  `json:"object"`
	Rows     int     `json:"rows"`
	QueryIDs []int64 `json:"query_ids"`
}

// Request selects what Export writes.
type Request struct {
	Suite         string
	Benchmark     string
	TrainingRatio float64
	Split         *results.ExperienceSplit
}

// Snapshotter writes a consistent copy of a database file.
type Snapshotter interface {
	Snapshot(ctx context.Context, dest string) error
}

// Exporter writes datasets below prefix in an object store.
type Exporter struct {
	storage storage.ObjectStorage
	prefix  string
	logger  log.Logger
	now     func() time.Time
	newID   func() string
}

// NewExporter creates an exporter. A nil logger discards output.
func NewExporter(store storage.ObjectStorage, prefix string, logger log.Logger) *Exporter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Exporter{
		storage: store,
		prefix:  prefix,
		logger:  log.With(logger, "component", "export"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Export writes the train and test sets plus a manifest under
// <prefix>/<suite>/<id>/ and returns the uploaded manifest.
func (e *Exporter) Export(ctx context.Context, req Request) (*Manifest, error) {
	if req.Suite == "" {
		return nil, storeerrors.NewValidationError(storeerrors.CodeEmptyName, "export requires a suite name")
	}
	if req.Split == nil {
		return nil, storeerrors.NewValidationError(storeerrors.CodeEmptyName, "export requires an experience split")
	}

	tmp, err := os.MkdirTemp("", "autosteer-export-*")
	if err != nil {
		return nil, storeerrors.NewInternalError("failed to create staging directory", err)
	}
	defer os.RemoveAll(tmp)

	id := e.newID()
	base := path.Join(e.prefix, req.Suite, id)

	m := &Manifest{
		Version:       ManifestVersion,
		ID:            id,
		Suite:         req.Suite,
		Benchmark:     req.Benchmark,
		TrainingRatio: req.TrainingRatio,
		CreatedAt:     e.now().UTC(),
		Train:         Part{Object: path.Join(base, trainName), Rows: len(req.Split.Train), QueryIDs: req.Split.TrainQueryIDs},
		Test:          Part{Object: path.Join(base, testName), Rows: len(req.Split.Test), QueryIDs: req.Split.TestQueryIDs},
	}

	parts := []struct {
		part *Part
		rows []results.ExperienceRow
	}{
		{&m.Train, req.Split.Train},
		{&m.Test, req.Split.Test},
	}
	for _, p := range parts {
		local := filepath.Join(tmp, path.Base(p.part.Object))
		if err := writeRows(local, p.rows); err != nil {
			return nil, storeerrors.NewInternalError("failed to encode "+path.Base(p.part.Object), err)
		}
		if err := e.storage.Upload(ctx, local, p.part.Object); err != nil {
			return nil, err
		}
	}

	local := filepath.Join(tmp, manifestName)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, storeerrors.NewInternalError("failed to encode manifest", err)
	}
	if err := os.WriteFile(local, data, 0644); err != nil {
		return nil, storeerrors.NewInternalError("failed to write manifest", err)
	}
	if err := e.storage.Upload(ctx, local, path.Join(base, manifestName)); err != nil {
		return nil, err
	}

	level.Info(e.logger).Log("msg", "exported experience", "suite", req.Suite, "id", id,
		"train_rows", m.Train.Rows, "test_rows", m.Test.Rows)
	return m, nil
}

// Dataset is an exported split read back from object storage.
type Dataset struct {
	Manifest *Manifest
	Train    []results.ExperienceRow
	Test     []results.ExperienceRow
}

// Load downloads the manifest at manifestObject and both of its parts.
func (e *Exporter) Load(ctx context.Context, manifestObject string) (*Dataset, error) {
	tmp, err := os.MkdirTemp("", "autosteer-load-*")
	if err != nil {
		return nil, storeerrors.NewInternalError("failed to create staging directory", err)
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, manifestName)
	if err := e.storage.Download(ctx, manifestObject, local); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, storeerrors.NewInternalError("failed to read manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, storeerrors.NewInternalError("failed to decode manifest", err)
	}
	if m.Version != ManifestVersion {
		return nil, storeerrors.NewValidationError(storeerrors.CodeInvalidConfig,
			fmt.Sprintf("unsupported manifest version %d", m.Version))
	}

	partsDir := filepath.Join(tmp, "parts")
	fetched := storage.NewFetcher(e.storage, 2).Fetch(ctx, partsDir, []string{m.Train.Object, m.Test.Object})
	if err := fetched.Err(); err != nil {
		return nil, err
	}

	ds := &Dataset{Manifest: &m}
	if ds.Train, err = readRows(fetched.LocalPaths[m.Train.Object]); err != nil {
		return nil, storeerrors.NewInternalError("failed to decode training set", err)
	}
	if ds.Test, err = readRows(fetched.LocalPaths[m.Test.Object]); err != nil {
		return nil, storeerrors.NewInternalError("failed to decode test set", err)
	}
	if len(ds.Train) != m.Train.Rows || len(ds.Test) != m.Test.Rows {
		return nil, storeerrors.NewInternalError(
			fmt.Sprintf("dataset %s is truncated: %d/%d train, %d/%d test rows",
				m.ID, len(ds.Train), m.Train.Rows, len(ds.Test), m.Test.Rows), nil)
	}
	return ds, nil
}

// ArchiveDatabase snapshots db and uploads the copy to
// <prefix>/<suite>/archives/<suite>-<timestamp>.sqlite.
func (e *Exporter) ArchiveDatabase(ctx context.Context, db Snapshotter, suite string) (string, error) {
	tmp, err := os.MkdirTemp("", "autosteer-archive-*")
	if err != nil {
		return "", storeerrors.NewInternalError("failed to create staging directory", err)
	}
	defer os.RemoveAll(tmp)

	name := fmt.Sprintf("%s-%s.sqlite", suite, e.now().UTC().Format("20060102T150405Z"))
	local := filepath.Join(tmp, name)
	if err := db.Snapshot(ctx, local); err != nil {
		return "", err
	}

	objectPath := path.Join(e.prefix, suite, "archives", name)
	if err := e.storage.Upload(ctx, local, objectPath); err != nil {
		return "", err
	}

	level.Info(e.logger).Log("msg", "archived result database", "suite", suite, "object", objectPath)
	return objectPath, nil
}

func writeRows(localPath string, rows []results.ExperienceRow) error {
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := snappy.NewBufferedWriter(f)
	enc := json.NewEncoder(w)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}

func readRows(localPath string) ([]results.ExperienceRow, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows := []results.ExperienceRow{}
	dec := json.NewDecoder(bufio.NewReader(snappy.NewReader(f)))
	for {
		var r results.ExperienceRow
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
}
