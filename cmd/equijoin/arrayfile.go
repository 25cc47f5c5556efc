package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/joinerr"
	"github.com/csvquery/equijoin/internal/jointuple"
	"github.com/csvquery/equijoin/internal/peering"
)

// jsonAttribute/jsonDimension/jsonSchema mirror joinconfig.Schema's shape
// on the wire — the JSON sidecar format a host would otherwise hand the
// core through its own array materialisation; here it doubles as the CLI
// demo harness's input format, the way csvquery's --where/--headers flags
// take raw JSON blobs for the same reason (src/go/main.go runQuery).
type jsonAttribute struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Nullable bool   `json:"nullable"`
}

type jsonDimension struct {
	Name      string `json:"name"`
	Low       int64  `json:"low"`
	High      int64  `json:"high"`
	ChunkSize int64  `json:"chunkSize"`
}

type jsonSchema struct {
	Attributes []jsonAttribute `json:"attributes"`
	Dimensions []jsonDimension `json:"dimensions"`
}

type jsonCell struct {
	Coords     []int64     `json:"coords"`
	Attributes []jsonValue `json:"attributes"`
}

type jsonValue struct {
	Null  bool     `json:"null,omitempty"`
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Str   *string  `json:"str,omitempty"`
}

type jsonChunk struct {
	Origin          []int64    `json:"origin"`
	Cells           []jsonCell `json:"cells"`
	CompressedBytes int64      `json:"compressedBytes,omitempty"`
}

type jsonArrayFile struct {
	Schema jsonSchema  `json:"schema"`
	Chunks []jsonChunk `json:"chunks"`
}

func parseKind(s string) (jointuple.Kind, error) {
	switch s {
	case "int64":
		return jointuple.KindInt64, nil
	case "float64":
		return jointuple.KindFloat64, nil
	case "string":
		return jointuple.KindString, nil
	case "bytes":
		return jointuple.KindBytes, nil
	default:
		return 0, joinerr.New(joinerr.EConfig, "unknown attribute kind %q", s)
	}
}

func toSchema(js jsonSchema) (joinconfig.Schema, error) {
	var s joinconfig.Schema
	for _, a := range js.Attributes {
		kind, err := parseKind(a.Kind)
		if err != nil {
			return s, err
		}
		s.Attributes = append(s.Attributes, joinconfig.Attribute{Name: a.Name, Kind: kind, Nullable: a.Nullable})
	}
	for _, d := range js.Dimensions {
		s.Dimensions = append(s.Dimensions, joinconfig.Dimension{Name: d.Name, Low: d.Low, High: d.High, ChunkSize: d.ChunkSize})
	}
	return s, nil
}

func toValue(v jsonValue, kind jointuple.Kind) jointuple.Value {
	if v.Null {
		return jointuple.NullValue(kind)
	}
	switch kind {
	case jointuple.KindInt64:
		if v.Int != nil {
			return jointuple.Int64Value(*v.Int)
		}
	case jointuple.KindFloat64:
		if v.Float != nil {
			return jointuple.Float64Value(*v.Float)
		}
	case jointuple.KindString:
		if v.Str != nil {
			return jointuple.StringValue(*v.Str)
		}
	case jointuple.KindBytes:
		if v.Str != nil {
			return jointuple.BytesValue([]byte(*v.Str))
		}
	}
	return jointuple.NullValue(kind)
}

// loadArrayFile reads one side's schema and materialised array from a JSON
// file in the shape jsonArrayFile describes.
func loadArrayFile(path string) (joinconfig.Schema, peering.Array, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return joinconfig.Schema{}, nil, fmt.Errorf("read array file %s: %w", path, err)
	}
	var jf jsonArrayFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return joinconfig.Schema{}, nil, joinerr.Wrap(joinerr.EConfig, err, "parse array file %s", path)
	}
	schema, err := toSchema(jf.Schema)
	if err != nil {
		return joinconfig.Schema{}, nil, err
	}

	chunks := make([]peering.Chunk, len(jf.Chunks))
	for ci, jc := range jf.Chunks {
		cells := make([]peering.Cell, len(jc.Cells))
		for ri, jcell := range jc.Cells {
			attrs := make([]jointuple.Value, len(jcell.Attributes))
			for ai, jv := range jcell.Attributes {
				kind := jointuple.KindInt64
				if ai < len(schema.Attributes) {
					kind = schema.Attributes[ai].Kind
				}
				attrs[ai] = toValue(jv, kind)
			}
			cells[ri] = peering.Cell{Coords: jcell.Coords, Attributes: attrs}
		}
		chunks[ci] = peering.Chunk{Origin: jc.Origin, Cells: cells, CompressedBytes: jc.CompressedBytes}
	}
	return schema, peering.NewMaterialArray(chunks), nil
}

// writeOutputFile serializes a finished output array (ModeOutput layout:
// myInstance/rowNo origin, tuple values + trailing tag) to a JSON file,
// dropping the trailing tag column the writer appends.
func writeOutputFile(path string, arr peering.Array, outNames []string) error {
	it := arr.Chunks()
	type outRow struct {
		Coords []int64 `json:"coords"`
		Values []any   `json:"values"`
	}
	var rows []outRow
	for {
		chunk, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for _, cell := range chunk.Cells {
			vals := cell.Attributes[:len(cell.Attributes)-1] // drop trailing tag
			row := make([]any, len(vals))
			for i, v := range vals {
				row[i] = valueToJSON(v)
			}
			rows = append(rows, outRow{Coords: cell.Coords, Values: row})
		}
	}

	out := struct {
		OutNames []string `json:"outNames,omitempty"`
		Rows     []outRow `json:"rows"`
	}{OutNames: outNames, Rows: rows}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func valueToJSON(v jointuple.Value) any {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case jointuple.KindInt64:
		return v.Int64()
	case jointuple.KindFloat64:
		return v.Float64()
	default:
		return v.String()
	}
}
