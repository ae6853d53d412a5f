package stream

import (
	"fmt"
	"io"

	"github.com/meigma/bif/internal/biftype"
	"github.com/meigma/bif/internal/format"
)

// BlockCursor reads the decoded content of a block-compressed payload.
//
// The cursor tracks the remaining decoded bytes of the current chunk. Skip
// passes over whole chunks using their declared compressed size without
// inflating them; a chunk is only inflated when the target position falls
// inside it. Reads may cross chunk boundaries.
type BlockCursor struct {
	src   io.ReaderAt
	next  int64 // file offset of the next chunk header
	end   int64 // file offset where chunk data ends
	total int64 // declared decoded size of the whole payload
	pos   int64 // decoded position
	pool  *DecoderPool

	cur       io.Reader // decoder of the current chunk, nil between chunks
	release   func()
	remaining int64 // decoded bytes left in the current chunk
	inflated  int   // chunks opened for decoding
}

// NewBlockCursor returns a cursor over chunks stored in src between start and
// end, which together decode to total bytes.
func NewBlockCursor(src io.ReaderAt, start, end, total int64, pool *DecoderPool) *BlockCursor {
	return &BlockCursor{
		src:   src,
		next:  start,
		end:   end,
		total: total,
		pool:  pool,
	}
}

// Pos returns the current decoded position.
func (c *BlockCursor) Pos() int64 {
	return c.pos
}

// Inflated returns how many chunks have been opened for decoding.
func (c *BlockCursor) Inflated() int {
	return c.inflated
}

// Read implements io.Reader.
func (c *BlockCursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	read := 0
	for read < len(p) {
		if c.remaining == 0 {
			if err := c.closeChunk(); err != nil {
				return read, err
			}
			if c.pos >= c.total {
				if read > 0 {
					return read, nil
				}
				return 0, io.EOF
			}
			h, err := c.nextHeader()
			if err != nil {
				return read, err
			}
			if err := c.openChunk(h); err != nil {
				return read, err
			}
			continue
		}
		n, err := c.readChunk(p[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// Skip advances the cursor by n decoded bytes.
func (c *BlockCursor) Skip(n int64) error {
	if n < 0 {
		return fmt.Errorf("stream: negative skip %d", n)
	}
	var scratch []byte
	for n > 0 {
		if c.remaining > 0 {
			if scratch == nil {
				scratch = make([]byte, 32*1024)
			}
			k := min(n, c.remaining, int64(len(scratch)))
			got, err := c.readChunk(scratch[:k])
			n -= int64(got)
			if err != nil {
				return err
			}
			continue
		}
		if err := c.closeChunk(); err != nil {
			return err
		}
		if c.pos >= c.total {
			return fmt.Errorf("%w: skip past end of payload", biftype.ErrIntegrity)
		}
		h, err := c.nextHeader()
		if err != nil {
			return err
		}
		size := int64(h.UncompressedSize)
		if n >= size {
			// The target lies beyond this chunk; its compressed bytes were
			// already stepped over by nextHeader.
			c.pos += size
			n -= size
			continue
		}
		if err := c.openChunk(h); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the decoder of the current chunk.
func (c *BlockCursor) Close() error {
	c.remaining = 0
	c.dropChunk()
	return nil
}

// nextHeader reads the next chunk header and advances past the chunk's
// compressed bytes. The chunk payload starts CompressedSize bytes before c.next.
func (c *BlockCursor) nextHeader() (format.BlockHeader, error) {
	var buf [format.BlockHeaderSize]byte
	if c.next+format.BlockHeaderSize > c.end {
		return format.BlockHeader{}, fmt.Errorf("%w: missing chunk header at %d", biftype.ErrIntegrity, c.next)
	}
	if _, err := c.src.ReadAt(buf[:], c.next); err != nil {
		return format.BlockHeader{}, fmt.Errorf("read chunk header at %d: %w", c.next, err)
	}
	h := format.ParseBlockHeader(buf[:])
	dataEnd := c.next + format.BlockHeaderSize + int64(h.CompressedSize)
	if dataEnd > c.end {
		return format.BlockHeader{}, fmt.Errorf("%w: chunk at %d exceeds file", biftype.ErrFormat, c.next)
	}
	if c.pos+int64(h.UncompressedSize) > c.total {
		return format.BlockHeader{}, fmt.Errorf("%w: chunk at %d exceeds declared size", biftype.ErrFormat, c.next)
	}
	c.next = dataEnd
	return h, nil
}

// openChunk starts decoding the chunk whose header was just read.
func (c *BlockCursor) openChunk(h format.BlockHeader) error {
	if h.UncompressedSize == 0 {
		return nil
	}
	data := io.NewSectionReader(c.src, c.next-int64(h.CompressedSize), int64(h.CompressedSize))
	dec, release, err := c.pool.Get(data)
	if err != nil {
		return fmt.Errorf("%w: open chunk: %v", biftype.ErrIntegrity, err)
	}
	c.cur = dec
	c.release = release
	c.remaining = int64(h.UncompressedSize)
	c.inflated++
	return nil
}

// readChunk reads from the current chunk, never past its declared size.
func (c *BlockCursor) readChunk(p []byte) (int, error) {
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.cur.Read(p)
	c.remaining -= int64(n)
	c.pos += int64(n)
	switch {
	case err == nil, err == io.EOF && c.remaining == 0:
		return n, nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return n, fmt.Errorf("%w: chunk ended %d bytes early", biftype.ErrIntegrity, c.remaining)
	default:
		return n, fmt.Errorf("%w: %v", biftype.ErrIntegrity, err)
	}
}

// closeChunk verifies the finished chunk produced no extra bytes and
// releases its decoder.
func (c *BlockCursor) closeChunk() error {
	if c.cur == nil {
		return nil
	}
	err := ExpectEOF(c.cur)
	c.dropChunk()
	return err
}

func (c *BlockCursor) dropChunk() {
	if c.release != nil {
		c.release()
	}
	c.cur = nil
	c.release = nil
}
