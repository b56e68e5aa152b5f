package cache

import (
	"spoorzoeker/pkg/datastructure"

	"github.com/DataDog/zstd"
	"github.com/kelindar/binary"
)

func encodeGraph(g *datastructure.Graph) ([]byte, error) {
	snapshot := g.Snapshot()
	bb, err := binary.Marshal(&snapshot)
	if err != nil {
		return nil, err
	}
	return compress(bb)
}

func decodeGraph(blob []byte) (*datastructure.Graph, error) {
	bb, err := decompress(blob)
	if err != nil {
		return nil, err
	}
	var snapshot datastructure.GraphSnapshot
	if err := binary.Unmarshal(bb, &snapshot); err != nil {
		return nil, err
	}
	return datastructure.NewGraphFromSnapshot(snapshot), nil
}

func encodeEntry(e Entry) ([]byte, error) {
	return binary.Marshal(&e)
}

func decodeEntry(bb []byte) (Entry, error) {
	var e Entry
	err := binary.Unmarshal(bb, &e)
	return e, err
}

func compress(bb []byte) ([]byte, error) {
	var bbCompressed []byte
	bbCompressed, err := zstd.Compress(bbCompressed, bb)
	if err != nil {
		return []byte{}, err
	}
	return bbCompressed, nil
}

func decompress(bbCompressed []byte) ([]byte, error) {
	var bb []byte
	bb, err := zstd.Decompress(bb, bbCompressed)
	if err != nil {
		return []byte{}, err
	}
	return bb, nil
}
