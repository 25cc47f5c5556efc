package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/peering"
)

// buildTaggedArray builds a one-row array shaped like tupleio.Writer's
// ModeOutput layout: tuple values followed by a trailing tag column.
func buildTaggedArray(t *testing.T) peering.Array {
	t.Helper()
	cell := peering.Cell{
		Coords: []int64{0, 0},
		Attributes: []jointuple.Value{
			jointuple.Int64Value(1),
			jointuple.StringValue("a"),
			{Kind: jointuple.KindBytes, Raw: []byte{1}},
		},
	}
	return peering.NewMaterialArray([]peering.Chunk{{Origin: []int64{0, 0}, Cells: []peering.Cell{cell}}})
}

func TestLoadArrayFileParsesSchemaAndCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "left.json")
	doc := `{
		"schema": {
			"attributes": [{"name": "id", "kind": "int64"}, {"name": "label", "kind": "string"}],
			"dimensions": [{"name": "i", "low": 0, "high": 99, "chunkSize": 10}]
		},
		"chunks": [{
			"origin": [0],
			"cells": [
				{"coords": [0], "attributes": [{"int": 1}, {"str": "a"}]},
				{"coords": [1], "attributes": [{"null": true}, {"str": "b"}]}
			]
		}]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	schema, arr, err := loadArrayFile(path)
	if err != nil {
		t.Fatalf("loadArrayFile: %v", err)
	}
	if len(schema.Attributes) != 2 || schema.Attributes[0].Kind != jointuple.KindInt64 {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if len(schema.Dimensions) != 1 || schema.Dimensions[0].ChunkSize != 10 {
		t.Fatalf("unexpected dimensions: %+v", schema.Dimensions)
	}

	it := arr.Chunks()
	chunk, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("expected one chunk, ok=%v err=%v", ok, err)
	}
	if len(chunk.Cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(chunk.Cells))
	}
	if chunk.Cells[0].Attributes[0].Int64() != 1 {
		t.Fatalf("first cell id = %v, want 1", chunk.Cells[0].Attributes[0])
	}
	if !chunk.Cells[1].Attributes[0].Null {
		t.Fatal("second cell's id attribute must decode as null")
	}
}

func TestLoadArrayFileRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	doc := `{"schema": {"attributes": [{"name": "x", "kind": "nonsense"}]}, "chunks": []}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := loadArrayFile(path); err == nil {
		t.Fatal("an unknown attribute kind must be rejected")
	}
}

func TestLoadArrayFileRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malformed.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := loadArrayFile(path); err == nil {
		t.Fatal("malformed JSON must be rejected")
	}
}

func TestWriteOutputFileDropsTrailingTagColumn(t *testing.T) {
	arr := buildTaggedArray(t)
	path := filepath.Join(t.TempDir(), "out.json")
	if err := writeOutputFile(path, arr, []string{"id", "label"}); err != nil {
		t.Fatalf("writeOutputFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var decoded struct {
		OutNames []string `json:"outNames"`
		Rows     []struct {
			Values []any `json:"values"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.OutNames) != 2 {
		t.Fatalf("outNames = %v, want 2 entries", decoded.OutNames)
	}
	if len(decoded.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(decoded.Rows))
	}
	if len(decoded.Rows[0].Values) != 2 {
		t.Fatalf("row values = %v, want exactly 2 (trailing tag column must be dropped)", decoded.Rows[0].Values)
	}
}
