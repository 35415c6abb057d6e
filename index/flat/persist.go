package flat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/internal/hash"
	"github.com/hupe1980/raggo/internal/mmap"
	"github.com/hupe1980/raggo/model"
)

// File format:
//
//	magic "RGVX" | version u16 | metric u8 | compression u8 |
//	dimension u32 | rowCount u32 |
//	codecNameLen u16 | codecName | modelLen u16 | model |
//	3 sections (ids, vectors, live bitmap), each:
//	  sectionLen u32 | payload | crc32c u32 (over the payload)
//
// The ids section is a codec-encoded []string, the vectors section is
// little-endian float32 rows (block-compressed per the header), the live
// section is a serialized roaring bitmap of live row numbers.
const (
	vectorsMagic   = "RGVX"
	vectorsVersion = 1
)

// SaveOptions contains configuration options for saving.
type SaveOptions struct {
	Codec codec.Codec
}

// Save writes the index to path. Saving is not atomic on its own; the
// lifecycle manager stages index files inside a snapshot directory that is
// swapped in as a whole.
func (f *Flat) Save(fsys fs.FileSystem, path string, optFns ...func(o *SaveOptions)) error {
	opts := SaveOptions{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString(vectorsMagic)
	binary.Write(&buf, binary.LittleEndian, uint16(vectorsVersion))
	buf.WriteByte(byte(f.opts.Metric))
	buf.WriteByte(byte(f.opts.Compression))
	binary.Write(&buf, binary.LittleEndian, uint32(f.opts.Dimension))
	binary.Write(&buf, binary.LittleEndian, uint32(len(f.vectors)))
	writeString16(&buf, opts.Codec.Name())
	writeString16(&buf, f.model)

	// Section 1: chunk ids (row order).
	ids := make([]string, len(f.ids))
	for i, id := range f.ids {
		ids[i] = string(id)
	}
	idBytes, err := opts.Codec.Marshal(ids)
	if err != nil {
		return fmt.Errorf("flat: encode ids: %w", err)
	}
	idBlock, err := compressBlock(idBytes, f.opts.Compression)
	if err != nil {
		return err
	}
	writeSection(&buf, idBlock)

	// Section 2: vectors.
	vecBytes := make([]byte, len(f.vectors)*f.opts.Dimension*4)
	for row, vec := range f.vectors {
		off := row * f.opts.Dimension * 4
		for i, x := range vec {
			binary.LittleEndian.PutUint32(vecBytes[off+i*4:], math.Float32bits(x))
		}
	}
	vecBlock, err := compressBlock(vecBytes, f.opts.Compression)
	if err != nil {
		return err
	}
	writeSection(&buf, vecBlock)

	// Section 3: live bitmap.
	liveBytes, err := f.live.ToBytes()
	if err != nil {
		return fmt.Errorf("flat: encode live set: %w", err)
	}
	writeSection(&buf, liveBytes)

	file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadOptions contains configuration options for loading.
type LoadOptions struct {
	// Mmap parses the file through a read-only memory mapping instead of
	// buffering the whole file in the heap first, lowering peak memory
	// while loading. The decoded index is heap-resident either way; the
	// mapping is released when Load returns.
	Mmap bool
}

// Load reads an index from path, verifying section checksums and the
// recorded metric.
func Load(fsys fs.FileSystem, path string, optFns ...func(o *LoadOptions)) (*Flat, error) {
	var opts LoadOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	var data []byte
	if opts.Mmap {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		defer m.Close()
		data = m.Data
	} else {
		var err error
		data, err = fs.ReadFile(fsys, path)
		if err != nil {
			return nil, err
		}
	}

	r := bytes.NewReader(data)

	head := make([]byte, len(vectorsMagic))
	if _, err := io.ReadFull(r, head); err != nil || string(head) != vectorsMagic {
		return nil, fmt.Errorf("flat: %s: bad magic", path)
	}
	var ver uint16
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, err
	}
	if ver != vectorsVersion {
		return nil, fmt.Errorf("flat: %s: unsupported version %d", path, ver)
	}

	var metricByte, compByte byte
	if err := binary.Read(r, binary.LittleEndian, &metricByte); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &compByte); err != nil {
		return nil, err
	}
	var dimension, rowCount uint32
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rowCount); err != nil {
		return nil, err
	}
	codecName, err := readString16(r)
	if err != nil {
		return nil, err
	}
	modelID, err := readString16(r)
	if err != nil {
		return nil, err
	}

	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("flat: %s: unknown codec %q", path, codecName)
	}
	compression := Compression(compByte)

	idBlock, err := readSection(r, path)
	if err != nil {
		return nil, err
	}
	vecBlock, err := readSection(r, path)
	if err != nil {
		return nil, err
	}
	liveBytes, err := readSection(r, path)
	if err != nil {
		return nil, err
	}

	idBytes, err := decompressBlock(idBlock, compression)
	if err != nil {
		return nil, err
	}
	var rawIDs []string
	if err := c.Unmarshal(idBytes, &rawIDs); err != nil {
		return nil, fmt.Errorf("flat: %s: decode ids: %w", path, err)
	}
	if uint32(len(rawIDs)) != rowCount {
		return nil, fmt.Errorf("flat: %s: id count %d != row count %d", path, len(rawIDs), rowCount)
	}

	vecBytes, err := decompressBlock(vecBlock, compression)
	if err != nil {
		return nil, err
	}
	if uint32(len(vecBytes)) != rowCount*dimension*4 {
		return nil, fmt.Errorf("flat: %s: vector section size mismatch", path)
	}

	live := roaring.New()
	if err := live.UnmarshalBinary(liveBytes); err != nil {
		return nil, fmt.Errorf("flat: %s: decode live set: %w", path, err)
	}

	f := &Flat{
		opts: Options{
			Dimension:   int(dimension),
			Metric:      index.Metric(metricByte),
			Compression: compression,
		},
		model: modelID,
		rows:  make(map[model.ChunkID]uint32, rowCount),
		live:  live,
	}
	switch f.opts.Metric {
	case index.MetricCosine, index.MetricInnerProduct:
	default:
		return nil, fmt.Errorf("flat: %s: unsupported metric %d", path, metricByte)
	}

	f.ids = make([]model.ChunkID, rowCount)
	f.vectors = make([][]float32, rowCount)
	for row := uint32(0); row < rowCount; row++ {
		id := model.ChunkID(rawIDs[row])
		f.ids[row] = id
		f.rows[id] = row

		vec := make([]float32, dimension)
		off := int(row) * int(dimension) * 4
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(vecBytes[off+i*4:]))
		}
		f.vectors[row] = vec
	}

	return f, nil
}

func writeString16(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeSection(buf *bytes.Buffer, payload []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	binary.Write(buf, binary.LittleEndian, hash.CRC32C(payload))
}

func readSection(r *bytes.Reader, path string) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, err
	}
	if hash.CRC32C(payload) != sum {
		return nil, fmt.Errorf("flat: %s: section checksum mismatch", path)
	}
	return payload, nil
}
