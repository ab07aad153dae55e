package raft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"

	"github.com/raftcore/raft/raerrors"
)

// Store is the durable backing for a Log. It deals in opaque entry
// payloads; the Log is responsible for interpreting them as Entry values. Index is 1-based; index 0 is the "before the log"
// sentinel and is never stored.
type Store interface {
	// Append writes data as the next entry and returns its index.
	Append(data []byte) (index uint64, err error)

	// Get returns the entry at index, or ok=false if it does not exist.
	Get(index uint64) (data []byte, ok bool, err error)

	// Scan returns entries with index in [lo, hi]. hi == 0 means
	// unbounded (through Len()).
	Scan(lo, hi uint64) ([][]byte, error)

	// Len returns the highest stored index, 0 if empty.
	Len() uint64

	// Commit advances the committed index. Returns an error if index is
	// out of range or less than the current committed index.
	Commit(index uint64) error

	// Committed returns the most recently committed index.
	Committed() uint64

	// Truncate removes every entry with index > index. Returns an error
	// if index is less than Committed().
	Truncate(index uint64) (newLen uint64, err error)

	GetMetadata(key []byte) (value []byte, ok bool, err error)
	SetMetadata(key, value []byte) error

	// Size returns the approximate on-disk (or in-memory) footprint.
	Size() uint64

	Close() error
}

// --- MemoryStore -----------------------------------------------------------

// MemoryStore is an in-memory Store, used by tests and by hosts that don't
// need durability across restarts.
type MemoryStore struct {
	mu        sync.Mutex
	entries   [][]byte // entries[0] is index 1
	committed uint64
	metadata  map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{metadata: make(map[string][]byte)}
}

func (m *MemoryStore) Append(data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.entries = append(m.entries, cp)
	return uint64(len(m.entries)), nil
}

func (m *MemoryStore) Get(index uint64) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index == 0 || index > uint64(len(m.entries)) {
		return nil, false, nil
	}
	return m.entries[index-1], true, nil
}

func (m *MemoryStore) Scan(lo, hi uint64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lo == 0 {
		lo = 1
	}
	last := uint64(len(m.entries))
	if hi == 0 || hi > last {
		hi = last
	}
	if lo > hi {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, m.entries[i-1])
	}
	return out, nil
}

func (m *MemoryStore) Len() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.entries))
}

func (m *MemoryStore) Commit(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index > uint64(len(m.entries)) {
		return raerrors.New("commit index beyond end of store")
	}
	if index < m.committed {
		return raerrors.New("commit index regression")
	}
	m.committed = index
	return nil
}

func (m *MemoryStore) Committed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func (m *MemoryStore) Truncate(index uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < m.committed {
		return 0, raerrors.New("cannot truncate below committed index")
	}
	if index < uint64(len(m.entries)) {
		m.entries = m.entries[:index]
	}
	return uint64(len(m.entries)), nil
}

func (m *MemoryStore) GetMetadata(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.metadata[string(key)]
	return v, ok, nil
}

func (m *MemoryStore) SetMetadata(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.metadata[string(key)] = cp
	return nil
}

func (m *MemoryStore) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n uint64
	for _, e := range m.entries {
		n += uint64(len(e))
	}
	return n
}

func (m *MemoryStore) Close() error { return nil }

// --- FileStore --------------------------------------------------------------

// fileRecord is the in-memory record of one appended entry: the byte offset
// of its frame in the log file and its decompressed payload.
type fileRecord struct {
	offset int64
	data   []byte // decompressed payload, cached in memory like the teacher's persistentLog
}

// FileStore is a durable, file-backed Store. Writes are Synced before being
// acknowledged, and operations that must be atomic go through a
// write-temp-then-rename sequence, mirroring the teacher's persistentLog
// and persistentStateStorage.
type FileStore struct {
	mu sync.Mutex

	dir  string
	file *os.File

	records   []fileRecord
	committed uint64
	metadata  map[string][]byte

	// compressThreshold is the minimum payload size, in bytes, before
	// snappy compression is applied. Below it the cost of compression
	// outweighs the savings, matching flydb's compression.Config.MinSize
	// policy.
	compressThreshold int
}

const defaultCompressThreshold = 256

// committedMetaKey is the FileStore-internal metadata key the committed
// index is persisted under, distinct from the Log-level "term"/"votedFor"
// keys that flow through GetMetadata/SetMetadata.
const committedMetaKey = "__store.committed"

// OpenFileStore opens (creating if necessary) a durable Store rooted at
// dir. dir must already exist.
func OpenFileStore(dir string) (*FileStore, error) {
	logPath := filepath.Join(dir, "log.bin")
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, raerrors.WrapIO(err, "failed to open log store")
	}

	fs := &FileStore{
		dir:               dir,
		file:              f,
		metadata:          make(map[string][]byte),
		compressThreshold: defaultCompressThreshold,
	}

	if err := fs.replay(); err != nil {
		return nil, err
	}
	if err := fs.loadMetadata(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) replay() error {
	r := bufio.NewReader(f.file)
	var offset int64
	for {
		start := offset
		var frameLen uint32
		if err := binary.Read(r, binary.BigEndian, &frameLen); err != nil {
			if err == io.EOF {
				break
			}
			return raerrors.WrapIO(err, "failed while replaying log store")
		}
		offset += 4
		buf := make([]byte, frameLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return raerrors.WrapIO(err, "failed while replaying log store (truncated record)")
		}
		offset += int64(frameLen)

		payload, err := decodeFrame(buf)
		if err != nil {
			return raerrors.WrapIO(err, "failed while replaying log store")
		}
		f.records = append(f.records, fileRecord{offset: start, data: payload})
	}
	return nil
}

func (f *FileStore) metaPath() string {
	return filepath.Join(f.dir, "meta.bin")
}

func (f *FileStore) loadMetadata() error {
	data, err := os.ReadFile(f.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return raerrors.WrapIO(err, "failed to read metadata store")
	}
	if len(data) == 0 {
		return nil
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	m := make(map[string][]byte)
	if err := dec.Decode(&m); err != nil {
		return raerrors.WrapIO(err, "failed to decode metadata store")
	}
	f.metadata = m
	if v, ok := f.metadata[committedMetaKey]; ok {
		f.committed = decodeUint64(v)
	}
	return nil
}

// frame is compress-then-gob-then-length-prefix, following the
// length-prefixed encode/decode pattern the teacher uses for its own log
// and snapshot records (size header, then payload).
type frame struct {
	Compressed bool
	Payload    []byte
}

func encodeFrame(data []byte, threshold int) ([]byte, error) {
	fr := frame{Payload: data}
	if len(data) >= threshold {
		fr.Compressed = true
		fr.Payload = snappy.Encode(nil, data)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&fr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFrame(buf []byte) ([]byte, error) {
	var fr frame
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&fr); err != nil {
		return nil, err
	}
	if !fr.Compressed {
		return fr.Payload, nil
	}
	return snappy.Decode(nil, fr.Payload)
}

func (f *FileStore) Append(data []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	encoded, err := encodeFrame(data, f.compressThreshold)
	if err != nil {
		return 0, raerrors.WrapIO(err, "failed to encode log entry")
	}

	offset, err := f.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, raerrors.WrapIO(err, "failed to append entry")
	}
	if err := binary.Write(f.file, binary.BigEndian, uint32(len(encoded))); err != nil {
		return 0, raerrors.WrapIO(err, "failed to append entry")
	}
	if _, err := f.file.Write(encoded); err != nil {
		return 0, raerrors.WrapIO(err, "failed to append entry")
	}
	if err := f.file.Sync(); err != nil {
		return 0, raerrors.WrapIO(err, "failed to append entry")
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	f.records = append(f.records, fileRecord{offset: offset, data: cp})
	return uint64(len(f.records)), nil
}

func (f *FileStore) Get(index uint64) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index == 0 || index > uint64(len(f.records)) {
		return nil, false, nil
	}
	return f.records[index-1].data, true, nil
}

func (f *FileStore) Scan(lo, hi uint64) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lo == 0 {
		lo = 1
	}
	last := uint64(len(f.records))
	if hi == 0 || hi > last {
		hi = last
	}
	if lo > hi {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, f.records[i-1].data)
	}
	return out, nil
}

func (f *FileStore) Len() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.records))
}

// Commit advances the committed index and persists it as store metadata
// (the same atomic-rewrite path SetMetadata uses for term/votedFor), so a
// restart via OpenFileStore recovers it instead of reverting to zero.
func (f *FileStore) Commit(index uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index > uint64(len(f.records)) {
		return raerrors.New("commit index beyond end of store")
	}
	if index < f.committed {
		return raerrors.New("commit index regression")
	}
	f.metadata[committedMetaKey] = encodeUint64(index)
	if err := f.persistMetadataLocked(); err != nil {
		return err
	}
	f.committed = index
	return nil
}

func (f *FileStore) Committed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

// Truncate removes every record with index > index by rewriting the log
// file via a temp-file-then-rename, the same pattern the teacher's
// persistentLog.Compact uses.
func (f *FileStore) Truncate(index uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if index < f.committed {
		return 0, raerrors.New("cannot truncate below committed index")
	}
	if index >= uint64(len(f.records)) {
		return uint64(len(f.records)), nil
	}

	keep := f.records[:index]

	tmp, err := os.CreateTemp(f.dir, "tmp-log-")
	if err != nil {
		return 0, raerrors.WrapIO(err, "failed to truncate log store")
	}

	newRecords := make([]fileRecord, 0, len(keep))
	var offset int64
	for _, rec := range keep {
		encoded, err := encodeFrame(rec.data, f.compressThreshold)
		if err != nil {
			return 0, raerrors.WrapIO(err, "failed to truncate log store")
		}
		if err := binary.Write(tmp, binary.BigEndian, uint32(len(encoded))); err != nil {
			return 0, raerrors.WrapIO(err, "failed to truncate log store")
		}
		if _, err := tmp.Write(encoded); err != nil {
			return 0, raerrors.WrapIO(err, "failed to truncate log store")
		}
		newRecords = append(newRecords, fileRecord{offset: offset, data: rec.data})
		offset += 4 + int64(len(encoded))
	}

	if err := f.swapFile(tmp, "log.bin"); err != nil {
		return 0, err
	}

	f.records = newRecords
	return uint64(len(f.records)), nil
}

// swapFile syncs, closes, and atomically renames tmp over the named file in
// f.dir, then reopens f.file positioned at the end for further appends.
func (f *FileStore) swapFile(tmp *os.File, name string) error {
	if err := tmp.Sync(); err != nil {
		return raerrors.WrapIO(err, "failed to sync replacement file")
	}
	if err := tmp.Close(); err != nil {
		return raerrors.WrapIO(err, "failed to close replacement file")
	}
	if err := f.file.Close(); err != nil {
		return raerrors.WrapIO(err, "failed to close old file")
	}
	target := filepath.Join(f.dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return raerrors.WrapIO(err, "failed to rename replacement file")
	}
	newFile, err := os.OpenFile(target, os.O_RDWR, 0o666)
	if err != nil {
		return raerrors.WrapIO(err, "failed to reopen file after rename")
	}
	if _, err := newFile.Seek(0, io.SeekEnd); err != nil {
		return raerrors.WrapIO(err, "failed to seek reopened file")
	}
	f.file = newFile
	return nil
}

func (f *FileStore) GetMetadata(key []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.metadata[string(key)]
	return v, ok, nil
}

// SetMetadata persists the full metadata map atomically via a
// temp-file-then-rename, mirroring persistentStateStorage.SetState.
func (f *FileStore) SetMetadata(key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	f.metadata[string(key)] = cp
	return f.persistMetadataLocked()
}

// persistMetadataLocked rewrites the metadata file from f.metadata via a
// temp-file-then-rename, mirroring persistentStateStorage.SetState. Callers
// must hold f.mu.
func (f *FileStore) persistMetadataLocked() error {
	tmp, err := os.CreateTemp(f.dir, "tmp-meta-")
	if err != nil {
		return raerrors.WrapIO(err, "failed to persist metadata")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.metadata); err != nil {
		return raerrors.WrapIO(err, "failed to encode metadata")
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return raerrors.WrapIO(err, "failed to persist metadata")
	}
	if err := tmp.Sync(); err != nil {
		return raerrors.WrapIO(err, "failed to persist metadata")
	}
	if err := tmp.Close(); err != nil {
		return raerrors.WrapIO(err, "failed to persist metadata")
	}
	if err := os.Rename(tmp.Name(), f.metaPath()); err != nil {
		return raerrors.WrapIO(err, "failed to persist metadata")
	}
	return nil
}

func (f *FileStore) Size() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.file.Stat()
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return raerrors.WrapIO(err, "failed to close log store")
	}
	return nil
}
