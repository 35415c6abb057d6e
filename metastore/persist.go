package metastore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/internal/hash"
	"github.com/hupe1980/raggo/model"
)

// File format:
//
//	magic "RGMD" | version u16 | codecNameLen u16 | codecName |
//	uncompressedSize u32 | compressedSize u32 | zstd(codec([]Provenance)) |
//	crc32c u32 (over everything before the checksum)
const (
	magic   = "RGMD"
	version = 1
)

// Save encodes the store and writes it to path. The write is not atomic on
// its own; callers stage metastore files inside a snapshot directory that is
// swapped in as a whole.
func (s *Store) Save(fsys fs.FileSystem, path string, c codec.Codec) error {
	if c == nil {
		c = codec.Default
	}

	plain, err := c.Marshal(s.All())
	if err != nil {
		return fmt.Errorf("metastore: encode entries: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(plain, nil)
	enc.Close()

	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, uint16(version))
	binary.Write(&buf, binary.LittleEndian, uint16(len(c.Name())))
	buf.WriteString(c.Name())
	binary.Write(&buf, binary.LittleEndian, uint32(len(plain)))
	binary.Write(&buf, binary.LittleEndian, uint32(len(compressed)))
	buf.Write(compressed)
	binary.Write(&buf, binary.LittleEndian, hash.CRC32C(buf.Bytes()))

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a store from path, verifying the checksum and selecting the
// codec recorded in the header.
func Load(fsys fs.FileSystem, path string) (*Store, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(magic)+2+2+4+4+4 {
		return nil, fmt.Errorf("metastore: %s: file too short", path)
	}

	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if hash.CRC32C(body) != sum {
		return nil, fmt.Errorf("metastore: %s: checksum mismatch", path)
	}

	r := bytes.NewReader(body)
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r, head); err != nil || string(head) != magic {
		return nil, fmt.Errorf("metastore: %s: bad magic", path)
	}

	var ver uint16
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, err
	}
	if ver != version {
		return nil, fmt.Errorf("metastore: %s: unsupported version %d", path, ver)
	}

	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return nil, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, err
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("metastore: %s: unknown codec %q", path, name)
	}

	var plainSize, compSize uint32
	if err := binary.Read(r, binary.LittleEndian, &plainSize); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &compSize); err != nil {
		return nil, err
	}
	compressed := make([]byte, compSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(compressed, make([]byte, 0, plainSize))
	if err != nil {
		return nil, fmt.Errorf("metastore: %s: decompress: %w", path, err)
	}

	var entries []model.Provenance
	if err := c.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("metastore: %s: decode entries: %w", path, err)
	}

	s := New()
	for _, prov := range entries {
		s.Put(prov)
	}
	return s, nil
}
