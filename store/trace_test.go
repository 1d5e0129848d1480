package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func sampleRows() []SearchTraceRow {
	childJSON, _ := EncodeRootChildren([]RootChildSummary{
		{Move: 12, Visits: 80, EdgeVisits: 80, Weight: 79.5, Utility: 0.12, Policy: 0.3},
		{Move: 40, Visits: 19, EdgeVisits: 19, Weight: 19.0, Utility: -0.05, Policy: 0.2},
	})
	return []SearchTraceRow{
		{
			GameID: "g1", Turn: 0, Pla: 1,
			XSize: 9, YSize: 9,
			ChosenMove: 12, Visits: 100, Playouts: 100,
			WinLossValue: 0.1, ScoreMean: 2.5, ScoreStdev: 8.0, Lead: 2.0,
			DurationMs: 120, RootChildrenJSON: childJSON,
		},
		{
			GameID: "g1", Turn: 1, Pla: 2,
			XSize: 9, YSize: 9,
			ChosenMove: 40, Visits: 100, Playouts: 100,
			WinLossValue: -0.1, ScoreMean: -1.0, ScoreStdev: 7.5, Lead: -0.5,
			DurationMs: 110,
		},
	}
}

func TestWriteAndReadTraceParquet(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "trace.parquet")
	rows := sampleRows()
	if err := WriteTraceParquet(outPath, rows); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := os.Stat(outPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("tmp file should not remain after rename")
	}

	readBack, err := parquet.ReadFile[SearchTraceRow](outPath)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(readBack) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(readBack))
	}
	if readBack[0].GameID != "g1" || readBack[0].ChosenMove != 12 {
		t.Errorf("first row mismatch: %+v", readBack[0])
	}
	if string(readBack[0].RootChildrenJSON) != string(rows[0].RootChildrenJSON) {
		t.Errorf("root children payload mismatch")
	}
}

func TestBatchWriterFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	if err != nil {
		t.Fatalf("new batch writer: %v", err)
	}
	if err := w.WriteRows(sampleRows()); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	outPath, rows, err := w.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected 2 rows, got %d", rows)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("finalized file missing: %v", err)
	}
}

func TestBatchWriterEmptyFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	if err != nil {
		t.Fatalf("new batch writer: %v", err)
	}
	outPath, rows, err := w.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if outPath != "" || rows != 0 {
		t.Errorf("empty batch should produce no file, got %q/%d", outPath, rows)
	}
}
