package changestore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/graftvcs/graft"
)

// contentsBlockSize is the uncompressed size of one independently
// compressed block within a contents frame (spec.md §4.11: "contents
// frame split into independently-compressed 64 KiB blocks plus a block
// index"), so GetContents can decompress only the blocks a requested
// range touches instead of the whole file's contents.
const contentsBlockSize = 64 * 1024

// encodeContentsFrame lays out a contents segment as: uint32 block count,
// then one uint32 compressed length per block, then the compressed
// blocks themselves back to back.
func encodeContentsFrame(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	numBlocks := (len(data) + contentsBlockSize - 1) / contentsBlockSize
	blockLens := make([]uint32, 0, numBlocks)
	var compressed bytes.Buffer
	for off := 0; off < len(data); off += contentsBlockSize {
		end := off + contentsBlockSize
		if end > len(data) {
			end = len(data)
		}
		block := enc.EncodeAll(data[off:end], nil)
		blockLens = append(blockLens, uint32(len(block)))
		compressed.Write(block)
	}

	var out bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(numBlocks))
	out.Write(countBuf[:])
	for _, l := range blockLens {
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], l)
		out.Write(lb[:])
	}
	out.Write(compressed.Bytes())
	return out.Bytes(), nil
}

// decodeContentsFrame decompresses only the blocks overlapping
// [start, end) and returns the requested byte slice (spec.md §4.8:
// "get_contents ... reads only the requested byte range").
func decodeContentsFrame(frame []byte, start, end graft.ChangePosition) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("contents frame truncated")
	}
	numBlocks := int(binary.LittleEndian.Uint32(frame[0:4]))
	indexEnd := 4 + numBlocks*4
	if len(frame) < indexEnd {
		return nil, fmt.Errorf("contents frame truncated: block index")
	}
	blockLens := make([]int, numBlocks)
	for i := 0; i < numBlocks; i++ {
		blockLens[i] = int(binary.LittleEndian.Uint32(frame[4+i*4 : 8+i*4]))
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	firstBlock := int(start) / contentsBlockSize
	lastBlock := (int(end) - 1) / contentsBlockSize

	off := indexEnd
	for i := 0; i < firstBlock && i < numBlocks; i++ {
		off += blockLens[i]
	}

	var out []byte
	for i := firstBlock; i <= lastBlock && i < numBlocks; i++ {
		if off+blockLens[i] > len(frame) {
			return nil, fmt.Errorf("contents frame truncated: block %d", i)
		}
		block, err := dec.DecodeAll(frame[off:off+blockLens[i]], nil)
		if err != nil {
			return nil, err
		}

		blockStart := i * contentsBlockSize
		lo := 0
		if int(start) > blockStart {
			lo = int(start) - blockStart
		}
		hi := len(block)
		if int(end) < blockStart+len(block) {
			hi = int(end) - blockStart
		}
		if lo < hi {
			out = append(out, block[lo:hi]...)
		}
		off += blockLens[i]
	}
	return out, nil
}

func gobEncode(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
