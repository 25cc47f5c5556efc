package joinconfig

import (
	"encoding/json"
	"flag"
	"regexp"

	"github.com/csvquery/equijoin/internal/joinerr"
)

// Algorithm is the user-selectable override for spec §4.9's selector, or
// AlgorithmAuto to let the selector decide.
type Algorithm int

const (
	AlgorithmAuto Algorithm = iota
	AlgorithmHashReplicateLeft
	AlgorithmHashReplicateRight
	AlgorithmMergeLeftFirst
	AlgorithmMergeRightFirst
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmHashReplicateLeft:
		return "hash_replicate_left"
	case AlgorithmHashReplicateRight:
		return "hash_replicate_right"
	case AlgorithmMergeLeftFirst:
		return "merge_left_first"
	case AlgorithmMergeRightFirst:
		return "merge_right_first"
	default:
		return "auto"
	}
}

// ParseAlgorithm resolves one of spec §6's four algorithm names, or "" /
// "auto" for AlgorithmAuto.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "auto":
		return AlgorithmAuto, nil
	case "hash_replicate_left":
		return AlgorithmHashReplicateLeft, nil
	case "hash_replicate_right":
		return AlgorithmHashReplicateRight, nil
	case "merge_left_first":
		return AlgorithmMergeLeftFirst, nil
	case "merge_right_first":
		return AlgorithmMergeRightFirst, nil
	default:
		return AlgorithmAuto, joinerr.New(joinerr.EConfig, "unknown algorithm %q", s)
	}
}

// Config is the flat, wire-shaped configuration spec §6 enumerates. JSON
// tags mirror the exact option names from spec.md so a query planner's
// parameter blob unmarshals directly.
type Config struct {
	LeftIds  []int `json:"leftIds,omitempty"`
	RightIds []int `json:"rightIds,omitempty"`

	LeftNames  []string `json:"leftNames,omitempty"`
	RightNames []string `json:"rightNames,omitempty"`

	HashJoinThresholdMB int `json:"hashJoinThreshold"`
	ChunkSize           int `json:"chunkSize"`

	AlgorithmName string `json:"algorithm,omitempty"`

	KeepDimensions bool `json:"keepDimensions"`
	BloomFilterSize int  `json:"bloomFilterSize"`

	Filter string `json:"filter,omitempty"`

	LeftOuter  bool `json:"leftOuter"`
	RightOuter bool `json:"rightOuter"`

	OutNames []string `json:"outNames,omitempty"`
}

// Load parses JSON bytes into a Config, the wire format a query planner
// would hand the core (§6). Mirrors schema.Load's unmarshal-then-return
// shape (internal_teacher/schema/manager.go).
func Load(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, joinerr.Wrap(joinerr.EConfig, err, "parse configuration JSON")
	}
	return c, nil
}

// RegisterFlags binds Config fields onto fs for the CLI harness, the way
// csvquery's main.go builds a flag.NewFlagSet per subcommand.
func RegisterFlags(fs *flag.FlagSet, c *Config) {
	fs.IntVar(&c.HashJoinThresholdMB, "hash-join-threshold-mb", 256, "memory limit (MB) that selects the hash-join bucket count and drives algorithm selection")
	fs.IntVar(&c.ChunkSize, "chunk-size", 1_000_000, "output chunk row count")
	fs.StringVar(&c.AlgorithmName, "algorithm", "", "algorithm override: hash_replicate_left|hash_replicate_right|merge_left_first|merge_right_first")
	fs.BoolVar(&c.KeepDimensions, "keep-dimensions", true, "retain non-key input dimensions in the output")
	fs.IntVar(&c.BloomFilterSize, "bloom-filter-size", 8*1024*1024, "bloom filter size in bits")
	fs.StringVar(&c.Filter, "filter", "", "post-join boolean predicate over output columns")
	fs.BoolVar(&c.LeftOuter, "left-outer", false, "emit unmatched left rows with null right payload")
	fs.BoolVar(&c.RightOuter, "right-outer", false, "emit unmatched right rows with null left payload")
}

var outNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Resolved is the validated, ordinal-resolved configuration a driver
// consumes: leftIds/rightIds are always populated (names resolved into
// ordinals), and Algorithm/outNames have been checked.
type Resolved struct {
	LeftIds, RightIds []int
	NumKeys           int
	HashJoinThresholdMB int
	ChunkSize         int
	Algorithm         Algorithm
	KeepDimensions    bool
	BloomFilterSize   int
	Filter            string
	LeftOuter         bool
	RightOuter        bool
	OutNames          []string
}

// Validate implements the precedence and checks described in SPEC_FULL §12
// (grounded in EquiJoinSettings.h): ids/names are mutually exclusive;
// *_names resolve against attributes first, then dimensions, and a name
// matching both is ambiguous; each outName's identifier shape is checked
// (their count is checked later, by ValidateOutNames); algorithm names are
// parsed. typeCompatible, if non-nil, is
// consulted once per key position (spec: "the left and right key column at
// each position [must] have the same physical type").
func Validate(c Config, left, right Schema, typeCompatible func(li, ri int) bool) (Resolved, error) {
	var r Resolved

	idsSet := len(c.LeftIds) > 0 || len(c.RightIds) > 0
	namesSet := len(c.LeftNames) > 0 || len(c.RightNames) > 0
	if idsSet && namesSet {
		return r, joinerr.New(joinerr.EConfig, "leftIds/rightIds and leftNames/rightNames are mutually exclusive")
	}
	if !idsSet && !namesSet {
		return r, joinerr.New(joinerr.EConfig, "one of leftIds/rightIds or leftNames/rightNames must be set")
	}

	var leftIds, rightIds []int
	if namesSet {
		if len(c.LeftNames) != len(c.RightNames) {
			return r, joinerr.New(joinerr.EConfig, "leftNames and rightNames must have equal length")
		}
		var err error
		leftIds, err = resolveNames(c.LeftNames, left)
		if err != nil {
			return r, err
		}
		rightIds, err = resolveNames(c.RightNames, right)
		if err != nil {
			return r, err
		}
	} else {
		if len(c.LeftIds) != len(c.RightIds) {
			return r, joinerr.New(joinerr.EConfig, "leftIds and rightIds must have equal length")
		}
		leftIds = c.LeftIds
		rightIds = c.RightIds
	}
	if len(leftIds) == 0 {
		return r, joinerr.New(joinerr.EConfig, "at least one join key is required")
	}

	for _, id := range leftIds {
		if err := checkOrdinalRange(id, left); err != nil {
			return r, err
		}
	}
	for _, id := range rightIds {
		if err := checkOrdinalRange(id, right); err != nil {
			return r, err
		}
	}

	if typeCompatible != nil {
		for i := range leftIds {
			if !typeCompatible(leftIds[i], rightIds[i]) {
				return r, joinerr.New(joinerr.EConfig, "join key %d has incompatible types between left and right", i)
			}
		}
	}

	algo, err := ParseAlgorithm(c.AlgorithmName)
	if err != nil {
		return r, err
	}
	if algo == AlgorithmHashReplicateLeft && c.LeftOuter {
		return r, joinerr.New(joinerr.EUnsupported, "hash_replicate_left is incompatible with leftOuter")
	}
	if algo == AlgorithmHashReplicateRight && c.RightOuter {
		return r, joinerr.New(joinerr.EUnsupported, "hash_replicate_right is incompatible with rightOuter")
	}

	if c.HashJoinThresholdMB <= 0 {
		return r, joinerr.New(joinerr.EConfig, "hashJoinThreshold must be positive")
	}
	if c.ChunkSize <= 0 {
		return r, joinerr.New(joinerr.EConfig, "chunkSize must be positive")
	}
	if c.BloomFilterSize <= 0 {
		return r, joinerr.New(joinerr.EConfig, "bloomFilterSize must be positive")
	}

	for _, n := range c.OutNames {
		if !outNamePattern.MatchString(n) {
			return r, joinerr.New(joinerr.EConfig, "outName %q is not a valid identifier", n)
		}
	}

	r = Resolved{
		LeftIds:             leftIds,
		RightIds:            rightIds,
		NumKeys:             len(leftIds),
		HashJoinThresholdMB: c.HashJoinThresholdMB,
		ChunkSize:           c.ChunkSize,
		Algorithm:           algo,
		KeepDimensions:      c.KeepDimensions,
		BloomFilterSize:     c.BloomFilterSize,
		Filter:              c.Filter,
		LeftOuter:           c.LeftOuter,
		RightOuter:          c.RightOuter,
		OutNames:            c.OutNames,
	}
	return r, nil
}

// MBToBytes converts a configured MB limit to bytes. The original SciDB
// settings file computes this as MB * 1024 * 1204 (a typo); spec.md Q-2
// requires the corrected MB * 1024 * 1024 here.
func MBToBytes(mb int) int64 { return int64(mb) * 1024 * 1024 }

// ValidateOutNames checks outNames' count against outputWidth (the
// key-mapping builder BuildMapping knows this only after applying
// keepDimensions, so this check runs as a second pass rather than inside
// Validate).
func ValidateOutNames(outNames []string, outputWidth int) error {
	if len(outNames) == 0 {
		return nil
	}
	if len(outNames) != outputWidth {
		return joinerr.New(joinerr.EConfig, "outNames has %d entries, expected %d output columns", len(outNames), outputWidth)
	}
	return nil
}

func resolveNames(names []string, s Schema) ([]int, error) {
	ids := make([]int, len(names))
	for i, name := range names {
		attrOrd := s.AttrOrdinal(name)
		dimOrd := s.DimOrdinal(name)
		switch {
		case attrOrd >= 0 && dimOrd != 0:
			return nil, joinerr.New(joinerr.EConfig, "column name %q is ambiguous: matches both an attribute and a dimension", name)
		case attrOrd >= 0:
			ids[i] = attrOrd
		case dimOrd != 0:
			ids[i] = dimOrd
		default:
			return nil, joinerr.New(joinerr.EConfig, "column name %q not found", name)
		}
	}
	return ids, nil
}

func checkOrdinalRange(ordinal int, s Schema) error {
	if IsDimension(ordinal) {
		idx := DimIndex(ordinal)
		if idx < 0 || idx >= len(s.Dimensions) {
			return joinerr.New(joinerr.EBounds, "dimension ordinal %d out of range", ordinal)
		}
		return nil
	}
	if ordinal < 0 || ordinal >= len(s.Attributes) {
		return joinerr.New(joinerr.EBounds, "attribute ordinal %d out of range", ordinal)
	}
	return nil
}
