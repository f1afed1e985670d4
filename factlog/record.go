package factlog

import (
	"bytes"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/factdb"
)

// ErrDecode is returned when a stored record cannot be decoded.
var ErrDecode = errors.New("cannot decode journal record")

// TxRecord is one committed transaction of a repository.
type TxRecord struct {
	bun.BaseModel `bun:"table:tx_log,alias:tx"`

	ID        string    `bun:"id,pk" json:"id"`
	Repo      string    `bun:"repo,notnull" json:"repo"`
	Seq       int64     `bun:"seq,notnull" json:"seq"`
	Facts     []byte    `bun:"facts,type:blob,notnull" json:"-"`
	Meta      []byte    `bun:"meta,type:blob" json:"-"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// value type tags of encoded facts
const (
	tagAny  = ""
	tagUUID = "uuid"
	tagEID  = "eid"
	tagInt  = "int"
)

type encodedFact struct {
	E     int64              `msgpack:"e"`
	A     string             `msgpack:"a"`
	Tag   string             `msgpack:"t,omitempty"`
	V     msgpack.RawMessage `msgpack:"v"`
	Added bool               `msgpack:"+"`
}

// NewRecord encodes a transaction report for repo.
func NewRecord(repo string, report *factdb.TxReport) (*TxRecord, error) {
	facts, err := EncodeFacts(report.Facts)
	if err != nil {
		return nil, err
	}
	meta, err := msgpack.Marshal(map[string]any(report.Meta))
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	return &TxRecord{
		ID:        report.ID.String(),
		Repo:      repo,
		Facts:     facts,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EncodeFacts encodes a fact batch. Block uuids, entity ids and integers are
// tagged so they decode to the types the database stores.
func EncodeFacts(facts []factdb.Fact) ([]byte, error) {
	out := make([]encodedFact, len(facts))
	for i, f := range facts {
		tag, v := tagAny, f.V
		switch x := f.V.(type) {
		case uuid.UUID:
			tag, v = tagUUID, x.String()
		case factdb.EID:
			tag, v = tagEID, int64(x)
		case int64:
			tag = tagInt
		}
		raw, err := msgpack.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode value of %s", f.A)
		}
		out[i] = encodedFact{E: int64(f.E), A: f.A, Tag: tag, V: raw, Added: f.Added}
	}
	return msgpack.Marshal(out)
}

// DecodeFacts reverses EncodeFacts. Untagged values decode loosely: integers
// as int64, floats as float64, collections as []any and map[string]any.
func DecodeFacts(data []byte) ([]factdb.Fact, error) {
	var in []encodedFact
	if err := msgpack.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrDecode), "facts")
	}
	out := make([]factdb.Fact, len(in))
	for i, f := range in {
		v, err := decodeValue(f.Tag, f.V)
		if err != nil {
			return nil, errors.Wrapf(errors.Mark(err, ErrDecode), "value of %s", f.A)
		}
		out[i] = factdb.Fact{E: factdb.EID(f.E), A: f.A, V: v, Added: f.Added}
	}
	return out, nil
}

func decodeValue(tag string, raw []byte) (any, error) {
	switch tag {
	case tagUUID:
		var s string
		if err := msgpack.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return uuid.Parse(s)
	case tagEID:
		var id int64
		if err := msgpack.Unmarshal(raw, &id); err != nil {
			return nil, err
		}
		return factdb.EID(id), nil
	case tagInt:
		var n int64
		if err := msgpack.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n, nil
	case tagAny:
		dec := msgpack.NewDecoder(bytes.NewReader(raw))
		dec.UseLooseInterfaceDecoding(true)
		return dec.DecodeInterface()
	}
	return nil, errors.Newf("unknown value tag %q", tag)
}

// DecodeMeta decodes the metadata of a record.
func DecodeMeta(data []byte) (factdb.Metadata, error) {
	meta := factdb.Metadata{}
	if len(data) == 0 {
		return meta, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrDecode), "metadata")
	}
	for k, v := range m {
		meta[k] = v
	}
	return meta, nil
}
