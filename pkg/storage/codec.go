package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
	"github.com/EdgeKing810/kinesis-db/pkg/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// recordsPerChunk caps how many records are serialized together into
// one chunk, spread over one or more consecutive pages and framed by a
// little-endian chunk_len u32 prefix per §4.7's page layout.
const recordsPerChunk = 100

// encodeChunk packs records as BSON (the teacher's own document codec,
// see the original bson.go) and prefixes the result with its length.
func encodeChunk(records []types.Record) ([]byte, error) {
	body, err := bson.Marshal(bson.M{"records": records})
	if err != nil {
		return nil, &dberrors.StorageFailureError{Op: "encode record chunk", Err: err}
	}
	framed := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(framed[:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}

// decodeChunk reverses encodeChunk, given the framed bytes.
func decodeChunk(framed []byte) ([]types.Record, error) {
	if len(framed) < 4 {
		return nil, &dberrors.StorageFailureError{Op: "decode record chunk", Err: fmt.Errorf("truncated chunk header")}
	}
	n := binary.LittleEndian.Uint32(framed[:4])
	if int(4+n) > len(framed) {
		return nil, &dberrors.StorageFailureError{Op: "decode record chunk", Err: fmt.Errorf("truncated chunk body")}
	}
	var doc struct {
		Records []types.Record `bson:"records"`
	}
	if err := bson.Unmarshal(framed[4:4+n], &doc); err != nil {
		return nil, &dberrors.StorageFailureError{Op: "decode record chunk", Err: err}
	}
	return doc.Records, nil
}

// tocDocument is the table-of-contents page's payload: every table's
// schema, plus its records' page ids grouped by chunk (each inner slice
// is the ordered run of pages one encodeChunk call spilled across, via
// Page.Write's remainder mechanism — a new chunk always starts on a
// fresh page, so these groups never need to share a page boundary).
type tocDocument struct {
	Tables  map[string][][]uint64        `bson:"tables"`
	Schemas map[string]types.TableSchema `bson:"schemas"`
}

func encodeTOC(toc tocDocument) ([]byte, error) {
	body, err := bson.Marshal(toc)
	if err != nil {
		return nil, &dberrors.StorageFailureError{Op: "encode TOC", Err: err}
	}
	framed := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(framed[:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}

func decodeTOC(framed []byte) (tocDocument, error) {
	if len(framed) < 4 {
		return tocDocument{}, &dberrors.StorageFailureError{Op: "decode TOC", Err: fmt.Errorf("truncated TOC header")}
	}
	n := binary.LittleEndian.Uint32(framed[:4])
	if n == 0 {
		return tocDocument{Tables: map[string][][]uint64{}, Schemas: map[string]types.TableSchema{}}, nil
	}
	if int(4+n) > len(framed) {
		return tocDocument{}, &dberrors.StorageFailureError{Op: "decode TOC", Err: fmt.Errorf("truncated TOC body")}
	}
	var toc tocDocument
	if err := bson.Unmarshal(framed[4:4+n], &toc); err != nil {
		return tocDocument{}, &dberrors.StorageFailureError{Op: "decode TOC", Err: err}
	}
	if toc.Tables == nil {
		toc.Tables = map[string][][]uint64{}
	}
	if toc.Schemas == nil {
		toc.Schemas = map[string]types.TableSchema{}
	}
	return toc, nil
}
