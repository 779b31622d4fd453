package memory_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

const (
	vectorsFile  = "vectors.bin"
	metadataFile = "metadata.json"

	// vectorsMagic identifies the vector snapshot format ("RPV1").
	vectorsMagic = uint32(0x52505631)
)

// metadataSnapshot is the JSON side table written next to the vector matrix.
type metadataSnapshot struct {
	Records map[int64]*Record `json:"records"`
	IDMap   []int64           `json:"id_map"`
	NextID  int64             `json:"next_id"`
}

// Save writes the current state as two artifacts: the vector matrix in a
// compact binary layout and the metadata side table as JSON. A consistent
// snapshot is taken under the read lock; the writes happen outside it.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	vectors := make([][]float32, len(s.vectors))
	copy(vectors, s.vectors)
	meta := metadataSnapshot{
		Records: make(map[int64]*Record, len(s.records)),
		IDMap:   append([]int64(nil), s.idMap...),
		NextID:  s.nextID,
	}
	for id, record := range s.records {
		meta.Records[id] = record
	}
	s.mu.RUnlock()

	vecData, err := encodeVectors(s.dim, vectors)
	if err != nil {
		return fmt.Errorf("failed to encode vectors: %w", err)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := s.provider.Write(ctx, vectorsFile, vecData); err != nil {
		return fmt.Errorf("failed to write %s: %w", vectorsFile, err)
	}
	if err := s.provider.Write(ctx, metadataFile, metaData); err != nil {
		return fmt.Errorf("failed to write %s: %w", metadataFile, err)
	}

	s.log.Debug("Persisted memory snapshot", logger.IntField("count", len(vectors)))
	return nil
}

// load restores the snapshot. Both artifacts must exist and agree with each
// other and with the configured dimension; any inconsistency is an error the
// caller downgrades to an empty store.
func (s *Store) load(ctx context.Context) error {
	vecExists, err := s.provider.Exists(ctx, vectorsFile)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", vectorsFile, err)
	}
	metaExists, err := s.provider.Exists(ctx, metadataFile)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", metadataFile, err)
	}
	if !vecExists && !metaExists {
		// Fresh start, nothing persisted yet
		return nil
	}
	if vecExists != metaExists {
		return fmt.Errorf("partial snapshot: vectors=%t metadata=%t", vecExists, metaExists)
	}

	vecData, err := s.provider.Read(ctx, vectorsFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", vectorsFile, err)
	}
	metaData, err := s.provider.Read(ctx, metadataFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", metadataFile, err)
	}

	vectors, err := decodeVectors(s.dim, vecData)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", vectorsFile, err)
	}

	var meta metadataSnapshot
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return fmt.Errorf("failed to decode %s: %w", metadataFile, err)
	}

	if len(meta.IDMap) != len(vectors) {
		return fmt.Errorf("snapshot mismatch: %d vectors but %d ids", len(vectors), len(meta.IDMap))
	}
	for _, id := range meta.IDMap {
		if _, ok := meta.Records[id]; !ok {
			return fmt.Errorf("snapshot mismatch: id %d has no record", id)
		}
	}
	if meta.Records == nil {
		meta.Records = make(map[int64]*Record)
	}

	s.vectors = vectors
	s.idMap = meta.IDMap
	s.records = meta.Records
	s.nextID = meta.NextID

	s.log.Info("Restored memory snapshot", logger.IntField("count", len(vectors)))
	return nil
}

// encodeVectors lays out the matrix as magic, dimension and count headers
// followed by row-major little-endian float32 values.
func encodeVectors(dim int, vectors [][]float32) ([]byte, error) {
	buf := &bytes.Buffer{}
	header := []uint32{vectorsMagic, uint32(dim), uint32(len(vectors))} //nolint:gosec // G115: dim and count are bounded
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector has %d values, want %d", len(vec), dim)
		}
		if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeVectors(dim int, data []byte) ([][]float32, error) {
	reader := bytes.NewReader(data)
	var header [3]uint32
	if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != vectorsMagic {
		return nil, fmt.Errorf("bad magic 0x%08x", header[0])
	}
	if int(header[1]) != dim {
		return nil, fmt.Errorf("dimension mismatch: snapshot has %d, configured %d", header[1], dim)
	}
	count := int(header[2])

	expected := count * dim * 4
	if reader.Len() != expected {
		return nil, fmt.Errorf("truncated payload: %d bytes, want %d", reader.Len(), expected)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		if err := binary.Read(reader, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
