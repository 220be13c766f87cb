package rowan

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan/internal"
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Snapshot layout, all integers little endian:
//
//	magic      [8]byte  "ROWANDB\x00"
//	format     uint8
//	codec      uint8
//	nameLen    uint16   + database name
//	version    uint64
//	payloadLen uint64   + compressed payload
//	checksum   uint64   xxh3 of the compressed payload
//
// The payload holds a store count followed by each store: name, auto
// increment flag, key generator, index definitions and the key/value
// records. Index entries are not persisted; Load derives them from the
// records.
const (
	snapshotMagic  = "ROWANDB\x00"
	snapshotFormat = 1
)

// Save persists the named database to the writer.
//
// Thread-safety: Save may run concurrently with transactions. Each store is
// serialized under its read lock, so stores are internally consistent but
// writes landing during the scan may split across stores.
func (f *RowanDB) Save(name string, w io.Writer) error {
	db, err := f.findDatabase(name)
	if err != nil {
		return err
	}
	version := db.currentVersion()

	stores := db.allStores()
	sort.Slice(stores, func(i, j int) bool { return stores[i].name < stores[j].name })

	var payload bytes.Buffer
	if err := binary.Write(&payload, binary.LittleEndian, uint32(len(stores))); err != nil {
		return err
	}
	for _, sd := range stores {
		sd.lock.RLock()
		err := writeStore(&payload, sd)
		sd.lock.RUnlock()
		if err != nil {
			return err
		}
	}

	compressed, err := compress(f.opts.SnapshotCodec, payload.Bytes())
	if err != nil {
		return err
	}

	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotFormat)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(f.opts.SnapshotCodec)); err != nil {
		return err
	}
	if err := writeBytes16(bw, []byte(db.name)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, version); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(compressed))); err != nil {
		return err
	}
	if _, err := bw.Write(compressed); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, xxh3.Hash(compressed)); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	mSnapshotsSaved.Inc()
	log.Infof("saved snapshot of %q (version %d, %d stores, %d bytes compressed)",
		db.name, version, len(stores), len(compressed))
	return nil
}

// writeStore serializes one store into w. The caller holds the store lock.
func writeStore(w io.Writer, sd *storeData) error {
	if err := writeBytes16(w, []byte(sd.name)); err != nil {
		return err
	}
	autoInc := uint8(0)
	if sd.autoInc {
		autoInc = 1
	}
	if err := binary.Write(w, binary.LittleEndian, autoInc); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, sd.keyGen); err != nil {
		return err
	}

	idxs := sd.allIndexes()
	sort.Slice(idxs, func(i, j int) bool { return idxs[i].name < idxs[j].name })
	if err := binary.Write(w, binary.LittleEndian, uint16(len(idxs))); err != nil {
		return err
	}
	for _, idx := range idxs {
		if err := writeBytes16(w, []byte(idx.name)); err != nil {
			return err
		}
		if err := writeBytes16(w, []byte(idx.keyPath)); err != nil {
			return err
		}
		unique := uint8(0)
		if idx.unique {
			unique = 1
		}
		if err := binary.Write(w, binary.LittleEndian, unique); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(sd.records.Len())); err != nil {
		return err
	}
	var werr error
	sd.records.Ascend(func(r internal.Record) bool {
		if werr = writeBytes32(w, r.Key); werr != nil {
			return false
		}
		if werr = writeBytes32(w, r.Value); werr != nil {
			return false
		}
		return true
	})
	return werr
}

// Load restores a database previously written by Save and returns its name.
// An existing database with the same name is replaced.
//
// Thread-safety: Load fails with ErrCInvalidState while the target database
// has open connections.
func (f *RowanDB) Load(r io.Reader) (string, error) {
	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return "", err
	}
	if string(magic) != snapshotMagic {
		return "", evd.NewError(evd.ErrCData, "invalid snapshot: magic number mismatch")
	}

	var format uint8
	if err := binary.Read(br, binary.LittleEndian, &format); err != nil {
		return "", err
	}
	if format != snapshotFormat {
		return "", evd.Errorf(evd.ErrCData, "unsupported snapshot format: %d (expected %d)", format, snapshotFormat)
	}

	var codecByte uint8
	if err := binary.Read(br, binary.LittleEndian, &codecByte); err != nil {
		return "", err
	}
	codec := Codec(codecByte)
	if !codec.IsSupported() {
		return "", evd.Errorf(evd.ErrCData, "unsupported snapshot codec %d", codecByte)
	}

	nameBytes, err := readBytes16(br)
	if err != nil {
		return "", err
	}
	name := string(nameBytes)
	if name == "" {
		return "", evd.NewError(evd.ErrCData, "snapshot carries no database name")
	}

	var version uint64
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return "", err
	}
	if version == 0 {
		return "", evd.NewError(evd.ErrCData, "snapshot carries version 0")
	}

	var payloadLen uint64
	if err := binary.Read(br, binary.LittleEndian, &payloadLen); err != nil {
		return "", err
	}
	compressed := make([]byte, payloadLen)
	if _, err := io.ReadFull(br, compressed); err != nil {
		return "", err
	}
	var sum uint64
	if err := binary.Read(br, binary.LittleEndian, &sum); err != nil {
		return "", err
	}
	if xxh3.Hash(compressed) != sum {
		return "", evd.NewError(evd.ErrCData, "invalid snapshot: checksum mismatch")
	}

	payload, err := decompress(codec, compressed)
	if err != nil {
		return "", err
	}

	stores, err := readStores(bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	db, err := f.lockDatabase(name)
	if err != nil {
		return "", err
	}
	defer db.openMu.Unlock()

	db.mu.Lock()
	if len(db.conns) > 0 {
		db.mu.Unlock()
		return "", evd.Errorf(evd.ErrCInvalidState, "database %q has open connections", name)
	}
	db.version = version
	db.stores = stores
	db.mu.Unlock()

	mSnapshotsLoaded.Inc()
	log.Infof("loaded snapshot of %q (version %d, %d stores)", name, version, len(stores))
	return name, nil
}

func readStores(br io.Reader) (map[string]*storeData, error) {
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	stores := make(map[string]*storeData, count)
	for i := uint32(0); i < count; i++ {
		sd, err := readStore(br)
		if err != nil {
			return nil, err
		}
		if _, exists := stores[sd.name]; exists {
			return nil, evd.Errorf(evd.ErrCData, "snapshot contains store %q twice", sd.name)
		}
		stores[sd.name] = sd
	}
	return stores, nil
}

func readStore(br io.Reader) (*storeData, error) {
	nameBytes, err := readBytes16(br)
	if err != nil {
		return nil, err
	}
	if len(nameBytes) == 0 {
		return nil, evd.NewError(evd.ErrCData, "snapshot contains a store without a name")
	}

	var autoInc uint8
	if err := binary.Read(br, binary.LittleEndian, &autoInc); err != nil {
		return nil, err
	}
	var keyGen uint64
	if err := binary.Read(br, binary.LittleEndian, &keyGen); err != nil {
		return nil, err
	}

	sd := newStoreData(string(nameBytes), autoInc == 1)
	sd.keyGen = keyGen

	type indexDef struct {
		name    string
		keyPath string
		unique  bool
	}
	var idxCount uint16
	if err := binary.Read(br, binary.LittleEndian, &idxCount); err != nil {
		return nil, err
	}
	defs := make([]indexDef, 0, idxCount)
	for i := uint16(0); i < idxCount; i++ {
		idxName, err := readBytes16(br)
		if err != nil {
			return nil, err
		}
		keyPath, err := readBytes16(br)
		if err != nil {
			return nil, err
		}
		var unique uint8
		if err := binary.Read(br, binary.LittleEndian, &unique); err != nil {
			return nil, err
		}
		defs = append(defs, indexDef{name: string(idxName), keyPath: string(keyPath), unique: unique == 1})
	}

	var recordCount uint64
	if err := binary.Read(br, binary.LittleEndian, &recordCount); err != nil {
		return nil, err
	}
	for i := uint64(0); i < recordCount; i++ {
		key, err := readBytes32(br)
		if err != nil {
			return nil, err
		}
		value, err := readBytes32(br)
		if err != nil {
			return nil, err
		}
		sd.records.ReplaceOrInsert(internal.Record{Key: key, Value: value})
	}

	for _, def := range defs {
		idx := &indexData{
			name:    def.name,
			keyPath: def.keyPath,
			unique:  def.unique,
			entries: newEntryTree(),
		}
		if err := sd.buildIndex(idx); err != nil {
			return nil, err
		}
		sd.setIndex(idx)
	}
	return sd, nil
}

// --------------------------------------------------------------------------
// Length Prefixed Byte Fields
// --------------------------------------------------------------------------

func writeBytes16(w io.Writer, b []byte) error {
	if len(b) > math.MaxUint16 {
		return evd.Errorf(evd.ErrCData, "field of %d bytes exceeds the 16 bit length prefix", len(b))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeBytes32(w io.Writer, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return evd.Errorf(evd.ErrCData, "field of %d bytes exceeds the 32 bit length prefix", len(b))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes16(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readBytes32(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
