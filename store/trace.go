// Package store persists per-move search traces as parquet, for
// offline inspection of what the engine searched and why it chose what
// it chose.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SearchTraceRow is one completed search: the position it ran on, the
// budget it consumed, the values it reported, and a compact summary of
// the root children.
type SearchTraceRow struct {
	GameID string `parquet:"game_id,dict"`
	Turn   int32  `parquet:"turn"`
	Pla    int32  `parquet:"pla"`

	XSize int32 `parquet:"x_size"`
	YSize int32 `parquet:"y_size"`

	ChosenMove int32 `parquet:"chosen_move"`
	Visits     int64 `parquet:"visits"`
	Playouts   int64 `parquet:"playouts"`

	WinLossValue float64 `parquet:"win_loss_value"`
	ScoreMean    float64 `parquet:"score_mean"`
	ScoreStdev   float64 `parquet:"score_stdev"`
	Lead         float64 `parquet:"lead"`

	DurationMs int64 `parquet:"duration_ms"`

	// RootChildrenJSON is a JSON array of RootChildSummary; it lets a
	// viewer replay the move decision without the full tree.
	RootChildrenJSON []byte `parquet:"root_children_json,optional,zstd"`
}

// RootChildSummary is the compact per-child record inside
// RootChildrenJSON.
type RootChildSummary struct {
	Move       int32   `json:"move"`
	Visits     int64   `json:"n"`
	EdgeVisits int64   `json:"en"`
	Weight     float64 `json:"w"`
	Utility    float64 `json:"q"`
	Policy     float64 `json:"p"`
}

func EncodeRootChildren(children []RootChildSummary) ([]byte, error) {
	return json.Marshal(children)
}

// WriteTraceParquet writes rows to outPath through a temp file and an
// atomic rename, so readers never observe a partial file.
func WriteTraceParquet(outPath string, rows []SearchTraceRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "search_trace_v1"),
	); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteTraceBatchAtomic writes a batch file into outDir/tmp and moves
// it into outDir once complete.
func WriteTraceBatchAtomic(outDir string, rows []SearchTraceRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}
	name := fmt.Sprintf("trace_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "search_trace_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}
