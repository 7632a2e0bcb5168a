package utils

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestCsvFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if !Exists(dir) {
		t.Fatalf("dir not created: %s", dir)
	}
	path := filepath.Join(dir, "rows.csv")
	rows := [][]string{{"time", "close"}, {"1700000000000", "10.5"}, {"1700000060000", "a,b"}}
	if err := WriteCsvFile(path, rows); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCsvFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(rows) {
		t.Fatalf("rows %v", got)
	}
	for i := range rows {
		if !slices.Equal(got[i], rows[i]) {
			t.Errorf("row %v: %v != %v", i, got[i], rows[i])
		}
	}
	if _, err = ReadCsvFile(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("missing file should fail")
	}
}
