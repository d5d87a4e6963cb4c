package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"zedstore/internal/base"
	"zedstore/internal/osio"
)

// WAL is a page-image write-ahead log. Every flush of the page store
// appends the full image of each dirty page followed by a commit
// marker; replay applies only batches whose marker made it to disk.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	offset   int64
}

// Record types.
const (
	recordPage   uint8 = 1
	recordCommit uint8 = 2
)

// recordHeaderSize is [type:1][seq:8][pageID:8][dataLen:4].
const recordHeaderSize = 1 + 8 + 8 + 4

// Open opens or creates a WAL file for a store with the given page size.
func Open(path string, pageSize int) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, err
	}
	return &WAL{
		file:     file,
		pageSize: pageSize,
		offset:   info.Size(),
	}, nil
}

// AppendPage writes one page image tagged with the flush sequence.
func (w *WAL) AppendPage(seq uint64, id base.PageID, image []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(image) != w.pageSize {
		return fmt.Errorf("wal append: image size %d, page size %d", len(image), w.pageSize)
	}

	buf := make([]byte, recordHeaderSize, recordHeaderSize+w.pageSize)
	buf[0] = recordPage
	binary.LittleEndian.PutUint64(buf[1:9], seq)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(id))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(image)))
	buf = append(buf, image...)

	n, err := w.file.Write(buf)
	if err != nil {
		return err
	}
	w.offset += int64(n)
	return nil
}

// AppendCommit writes the marker that makes the seq batch replayable.
func (w *WAL) AppendCommit(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf [recordHeaderSize]byte
	buf[0] = recordCommit
	binary.LittleEndian.PutUint64(buf[1:9], seq)

	n, err := w.file.Write(buf[:])
	if err != nil {
		return err
	}
	w.offset += int64(n)
	return nil
}

// Sync flushes appended records to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return osio.Fdatasync(w.file)
}

// Replay applies every committed page image in order. Batches with no
// commit marker (a crash mid-flush) are dropped. Returns the highest
// committed sequence seen.
func (w *WAL) Replay(apply func(base.PageID, []byte) error) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	type pageRec struct {
		id    base.PageID
		image []byte
	}
	pending := make(map[uint64][]pageRec)
	header := make([]byte, recordHeaderSize)
	var lastSeq uint64

scan:
	for {
		if _, err := io.ReadFull(w.file, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // torn tail, everything committed so far is applied
			}
			return lastSeq, fmt.Errorf("wal replay: %w", err)
		}

		kind := header[0]
		seq := binary.LittleEndian.Uint64(header[1:9])
		id := base.PageID(binary.LittleEndian.Uint64(header[9:17]))
		dataLen := int(binary.LittleEndian.Uint32(header[17:21]))

		switch kind {
		case recordPage:
			if dataLen != w.pageSize {
				return lastSeq, fmt.Errorf("wal replay: record image size %d, page size %d", dataLen, w.pageSize)
			}
			image := make([]byte, dataLen)
			if _, err := io.ReadFull(w.file, image); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					break scan
				}
				return lastSeq, fmt.Errorf("wal replay: %w", err)
			}
			pending[seq] = append(pending[seq], pageRec{id: id, image: image})

		case recordCommit:
			for _, rec := range pending[seq] {
				if err := apply(rec.id, rec.image); err != nil {
					return lastSeq, fmt.Errorf("wal replay page %d: %w", rec.id, err)
				}
			}
			delete(pending, seq)
			if seq > lastSeq {
				lastSeq = seq
			}

		default:
			return lastSeq, fmt.Errorf("wal replay: unknown record type %d", kind)
		}
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return lastSeq, err
	}
	return lastSeq, nil
}

// Reset discards all records. Called after the page file has been
// synced, at which point the log has nothing left to protect.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	offset, err := w.file.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}
	w.offset = offset
	return nil
}

// Size returns the current length of the log in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Close closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
