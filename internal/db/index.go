package db

import (
	"errors"
	"fmt"
)

// StorageType defines the document storage backend for FT indexes.
type StorageType string

// StorageHash stores documents as hashes. The product index uses nothing else.
const StorageHash StorageType = "HASH"

// DistanceMetric used by FT.SEARCH vector similarity queries.
type DistanceMetric string

const (
	// DistanceL2 is Euclidean distance.
	DistanceL2 DistanceMetric = "L2"
	// DistanceCosine is cosine distance.
	DistanceCosine DistanceMetric = "COSINE"
)

// VectorAlgorithm selects the indexing algorithm for vector fields in FT.CREATE.
type VectorAlgorithm string

const (
	// VectorHNSW uses the HNSW algorithm.
	VectorHNSW VectorAlgorithm = "HNSW"
	// VectorFlat uses the FLAT (brute-force) algorithm.
	VectorFlat VectorAlgorithm = "FLAT"
)

// IndexFieldType enumerates supported FT index field types.
type IndexFieldType int

const (
	// IndexFieldNumeric is a numeric field.
	IndexFieldNumeric IndexFieldType = iota
	// IndexFieldTag is a tag field.
	IndexFieldTag
	// IndexFieldVector is a vector field.
	IndexFieldVector
)

// IndexField describes a single field in an FT index schema.
type IndexField struct {
	Name string
	Type IndexFieldType

	// VECTOR options
	VectorAlgo        VectorAlgorithm
	VectorDim         int
	VectorDistance    DistanceMetric
	VectorM           int // HNSW M: max edges per node
	VectorEFConstruct int // HNSW EF_CONSTRUCTION
}

// IndexDefinition is a complete FT index definition used by FT.CREATE.
type IndexDefinition struct {
	Name        string
	StorageType StorageType
	Prefixes    []string
	Fields      []IndexField
}

// HNSW parameter bounds accepted by FT.CREATE on Valkey Search.
const (
	MaxHNSWM           = 512
	MaxHNSWEFConstruct = 4096
)

// Validate checks that the index definition is well-formed.
// Zero HNSW parameters leave the server defaults in place.
func (idx *IndexDefinition) Validate() error {
	switch {
	case idx.Name == "":
		return errors.New("index name is required")
	case !IsValidIdentifier(idx.Name):
		return fmt.Errorf("index name %q contains invalid characters", idx.Name)
	case len(idx.Fields) == 0:
		return errors.New("at least one field is required")
	}

	seen := make(map[string]struct{}, len(idx.Fields))
	vectors := 0
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field name is required at index %d", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field name: %s", f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Type != IndexFieldVector {
			continue
		}
		vectors++
		if err := f.validateVector(); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	if vectors > 1 {
		return errors.New("only one vector field is supported")
	}
	return nil
}

func (f *IndexField) validateVector() error {
	if f.VectorDim <= 0 {
		return errors.New("vector field requires positive DIM")
	}
	switch f.VectorDistance {
	case DistanceCosine, DistanceL2:
	default:
		return fmt.Errorf("unknown distance metric %q", f.VectorDistance)
	}
	switch f.VectorAlgo {
	case VectorFlat:
		if f.VectorM != 0 || f.VectorEFConstruct != 0 {
			return errors.New("M and EF_CONSTRUCTION apply to HNSW only")
		}
	case VectorHNSW:
		if f.VectorM < 0 || f.VectorM > MaxHNSWM {
			return fmt.Errorf("M must be within [0, %d]", MaxHNSWM)
		}
		if f.VectorEFConstruct < 0 || f.VectorEFConstruct > MaxHNSWEFConstruct {
			return fmt.Errorf("EF_CONSTRUCTION must be within [0, %d]", MaxHNSWEFConstruct)
		}
	default:
		return fmt.Errorf("unknown vector algorithm %q", f.VectorAlgo)
	}
	return nil
}

// IsValidIdentifier returns true if s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		isSpecial := r == '_' || r == ':' || r == '-'
		if !isAlpha && !isDigit && !isSpecial {
			return false
		}
	}
	return true
}
