package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
)

var (
	bucketInOrder = []byte("inorder")
	bucketEntries = []byte("entries")
)

// Store caches built indexes in a bbolt database next to the recordings.
// Keys are file fingerprints, so an index is found again only while the file
// is unchanged. Values are zstd compressed.
type Store struct {
	db *bbolt.DB
}

var (
	encoderPool = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("zstd encoder: %v", err))
		}
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("zstd decoder: %v", err))
		}
		return dec
	}}
)

// OpenStore opens or creates the store database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open index store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketInOrder, bucketEntries} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (st *Store) Close() error {
	return st.db.Close()
}

func compress(raw []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, nil)
}

func decompress(data []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: index store value: %w", ch10.ErrInvalidData, err)
	}
	return raw, nil
}

func (st *Store) put(bucket []byte, key string, raw []byte) error {
	value := compress(raw)
	return st.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), value)
	})
}

func (st *Store) get(bucket []byte, key string) ([]byte, bool, error) {
	var value []byte
	if err := st.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	raw, err := decompress(value)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

const inOrderRecordSize = 16

// SaveInOrder stores the in-order index of the file identified by fp.
func (st *Store) SaveInOrder(fp common.Fingerprint, entries []ch10.IndexEntry) error {
	raw := make([]byte, len(entries)*inOrderRecordSize)
	for i, e := range entries {
		b := raw[i*inOrderRecordSize:]
		binary.LittleEndian.PutUint64(b[0:8], uint64(e.Offset))
		binary.LittleEndian.PutUint64(b[8:16], uint64(e.RelTime))
	}
	return st.put(bucketInOrder, fp.String(), raw)
}

// LoadInOrder returns the in-order index stored for fp. The bool is false
// when there is none.
func (st *Store) LoadInOrder(fp common.Fingerprint) ([]ch10.IndexEntry, bool, error) {
	raw, ok, err := st.get(bucketInOrder, fp.String())
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(raw)%inOrderRecordSize != 0 {
		return nil, false, fmt.Errorf("%w: in-order record of %d bytes", ch10.ErrInvalidData, len(raw))
	}
	entries := make([]ch10.IndexEntry, len(raw)/inOrderRecordSize)
	for i := range entries {
		b := raw[i*inOrderRecordSize:]
		entries[i] = ch10.IndexEntry{
			Offset:  int64(binary.LittleEndian.Uint64(b[0:8])),
			RelTime: ch10.RelTime(binary.LittleEndian.Uint64(b[8:16])),
		}
	}
	return entries, true, nil
}

// entryRecordSize is channel, data type, date format, relative time,
// seconds, fraction, offset and a trailing time presence flag.
const entryRecordSize = 2 + 1 + 1 + 8 + 8 + 4 + 8 + 1

func entriesKey(fp common.Fingerprint, kind string) string {
	return fp.String() + "/" + kind
}

// SaveEntries stores query entries of the file identified by fp. kind tells
// apart indexes of the same file, for example "embedded" or a channel list.
func (st *Store) SaveEntries(fp common.Fingerprint, kind string, entries []Entry) error {
	raw := make([]byte, len(entries)*entryRecordSize)
	for i, e := range entries {
		b := raw[i*entryRecordSize:]
		binary.LittleEndian.PutUint16(b[0:2], e.ChannelID)
		b[2] = byte(e.DataType)
		binary.LittleEndian.PutUint64(b[4:12], uint64(e.RelTime))
		binary.LittleEndian.PutUint64(b[24:32], uint64(e.Offset))
		if e.Time != nil {
			b[3] = byte(e.Time.Format)
			binary.LittleEndian.PutUint64(b[12:20], uint64(e.Time.Secs))
			binary.LittleEndian.PutUint32(b[20:24], e.Time.Frac)
			b[32] = 1
		}
	}
	return st.put(bucketEntries, entriesKey(fp, kind), raw)
}

func (st *Store) LoadEntries(fp common.Fingerprint, kind string) ([]Entry, bool, error) {
	raw, ok, err := st.get(bucketEntries, entriesKey(fp, kind))
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(raw)%entryRecordSize != 0 {
		return nil, false, fmt.Errorf("%w: entry record of %d bytes", ch10.ErrInvalidData, len(raw))
	}
	entries := make([]Entry, len(raw)/entryRecordSize)
	for i := range entries {
		b := raw[i*entryRecordSize:]
		entries[i] = Entry{
			ChannelID: binary.LittleEndian.Uint16(b[0:2]),
			DataType:  ch10.DataType(b[2]),
			RelTime:   ch10.RelTime(binary.LittleEndian.Uint64(b[4:12])),
			Offset:    int64(binary.LittleEndian.Uint64(b[24:32])),
		}
		if b[32] != 0 {
			entries[i].Time = &ch10.IrigTime{
				Secs:   int64(binary.LittleEndian.Uint64(b[12:20])),
				Frac:   binary.LittleEndian.Uint32(b[20:24]),
				Format: ch10.DateFormat(b[3]),
			}
		}
	}
	return entries, true, nil
}

// Forget removes everything stored for fp.
func (st *Store) Forget(fp common.Fingerprint) error {
	key := fp.String()
	return st.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketInOrder).Delete([]byte(key)); err != nil {
			return err
		}
		c := tx.Bucket(bucketEntries).Cursor()
		prefix := []byte(key + "/")
		var stale [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := tx.Bucket(bucketEntries).Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// BuildInOrder gives s its in-order index, from the store when the file is
// unchanged since the index was saved, else by scanning the file and saving
// the result. A nil store always scans.
func BuildInOrder(st *Store, s *ch10.Stream) error {
	if st == nil {
		return s.MakeInOrderIndex()
	}
	fp, err := common.FingerprintFile(s.Path())
	if err != nil {
		return err
	}
	entries, ok, err := st.LoadInOrder(fp)
	if err != nil {
		common.Warnf("index: %s: stored in-order index unusable: %v", s.Path(), err)
	}
	if ok {
		if err := s.LoadInOrderIndex(entries); err == nil {
			common.Debugf("index: %s: in-order index loaded from store", s.Path())
			return nil
		} else if !errors.Is(err, ch10.ErrSortError) {
			return err
		}
	}
	if err := s.MakeInOrderIndex(); err != nil {
		return err
	}
	entries, _ = s.InOrderEntries()
	return st.SaveInOrder(fp, entries)
}
