// Package persist writes and reads the two on-disk artifacts of an index snapshot: the vector file
// and the identifier ledger. Both carry the same generation and count so a torn write is detectable.
package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	VectorsFile = "vectors.idx"
	LedgerFile  = "ids.ledger"
)

// ErrCorrupt is returned by Load when the artifacts are missing a partner, unreadable or disagree.
var ErrCorrupt = errors.New("index snapshot corrupt")

// Snapshot is the persisted state of an index: IDs[i] owns Vectors[i].
type Snapshot struct {
	Dimensions int
	Generation uint64
	IDs        []string
	Vectors    [][]float32
}

// Adapter saves and loads snapshots in one directory.
type Adapter struct {
	dir        string
	dimensions int
	codec      Codec
}

// NewAdapter creates the directory if needed.
func NewAdapter(dir string, dimensions int, codec Codec) (*Adapter, error) {
	if dir == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if codec == "" {
		codec = CodecNone
	}
	return &Adapter{dir: dir, dimensions: dimensions, codec: codec}, nil
}

// Paths returns the vector and ledger artifact paths.
func (a *Adapter) Paths() (string, string) {
	return filepath.Join(a.dir, VectorsFile), filepath.Join(a.dir, LedgerFile)
}

// Save writes both artifacts through temp files and renames them into place, vectors first.
func (a *Adapter) Save(s *Snapshot) error {
	if s.Dimensions != a.dimensions {
		return fmt.Errorf("snapshot dimensions %d, adapter expects %d", s.Dimensions, a.dimensions)
	}
	if len(s.IDs) != len(s.Vectors) {
		return fmt.Errorf("snapshot has %d ids and %d vectors", len(s.IDs), len(s.Vectors))
	}
	vecData, err := encodeVectors(s, a.codec)
	if err != nil {
		return err
	}
	ledgerData, err := encodeLedger(s)
	if err != nil {
		return err
	}

	vecPath, ledgerPath := a.Paths()
	vecTmp, err := a.writeTemp(vecData)
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	ledgerTmp, err := a.writeTemp(ledgerData)
	if err != nil {
		_ = os.Remove(vecTmp)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(vecTmp, vecPath); err != nil {
		_ = os.Remove(vecTmp)
		_ = os.Remove(ledgerTmp)
		return fmt.Errorf("rename vectors: %w", err)
	}
	if err := os.Rename(ledgerTmp, ledgerPath); err != nil {
		_ = os.Remove(ledgerTmp)
		return fmt.Errorf("rename ledger: %w", err)
	}
	syncDir(a.dir)
	return nil
}

func (a *Adapter) writeTemp(data []byte) (string, error) {
	path := filepath.Join(a.dir, ".tmp-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Load reads both artifacts. It returns (nil, nil) when neither exists.
func (a *Adapter) Load() (*Snapshot, error) {
	vecPath, ledgerPath := a.Paths()
	vecData, vecErr := os.ReadFile(vecPath)
	ledgerData, ledgerErr := os.ReadFile(ledgerPath)

	vecMissing := errors.Is(vecErr, os.ErrNotExist)
	ledgerMissing := errors.Is(ledgerErr, os.ErrNotExist)
	switch {
	case vecMissing && ledgerMissing:
		return nil, nil
	case vecMissing:
		return nil, fmt.Errorf("%w: %s present without %s", ErrCorrupt, LedgerFile, VectorsFile)
	case ledgerMissing:
		return nil, fmt.Errorf("%w: %s present without %s", ErrCorrupt, VectorsFile, LedgerFile)
	case vecErr != nil:
		return nil, fmt.Errorf("read vectors: %w", vecErr)
	case ledgerErr != nil:
		return nil, fmt.Errorf("read ledger: %w", ledgerErr)
	}

	vh, vecs, err := decodeVectors(vecData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	lh, ids, err := decodeLedger(ledgerData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int(vh.Dimensions) != a.dimensions {
		return nil, fmt.Errorf("%w: file has %d dimensions, index expects %d", ErrCorrupt, vh.Dimensions, a.dimensions)
	}
	if vh.Generation != lh.Generation {
		return nil, fmt.Errorf("%w: generation %d in vectors, %d in ledger", ErrCorrupt, vh.Generation, lh.Generation)
	}
	if vh.Count != lh.Count {
		return nil, fmt.Errorf("%w: %d vectors, %d ids", ErrCorrupt, vh.Count, lh.Count)
	}
	return &Snapshot{
		Dimensions: a.dimensions,
		Generation: vh.Generation,
		IDs:        ids,
		Vectors:    vecs,
	}, nil
}

// Remove deletes both artifacts. Missing files are not an error.
func (a *Adapter) Remove() error {
	vecPath, ledgerPath := a.Paths()
	for _, p := range []string{vecPath, ledgerPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// DiskUsage returns the combined size of both artifacts.
func (a *Adapter) DiskUsage() int64 {
	var total int64
	vecPath, ledgerPath := a.Paths()
	for _, p := range []string{vecPath, ledgerPath} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}
