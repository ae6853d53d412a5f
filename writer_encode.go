package bif

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/bif/internal/fileops"
	"github.com/meigma/bif/internal/format"
	"github.com/meigma/bif/internal/sizing"
	"github.com/meigma/bif/internal/stream"
)

// encode re-encodes the staged plain archive into w.format and returns the
// path of the encoded temp file.
func (w *Writer) encode(temps *fileops.TempSet, plainPath, baseName string) (string, error) {
	src, err := os.Open(plainPath) //nolint:gosec // temp file created by this writer
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}
	total, err := sizing.ToUint32(info.Size(), ErrRange)
	if err != nil {
		return "", err
	}

	dst, err := temps.Create(".bif-enc-*")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	switch w.format {
	case FormatWholeFile:
		err = w.encodeWholeFile(dst, src, total, baseName)
	case FormatBlock:
		err = w.encodeBlocks(dst, src, total)
	default:
		err = fmt.Errorf("unsupported archive format %s", w.format)
	}
	if err != nil {
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return dst.Name(), nil
}

// encodeWholeFile writes the header with the embedded file name, then one
// zlib stream of the whole plain archive. The compressed size is patched in
// once known.
func (w *Writer) encodeWholeFile(dst *os.File, src io.Reader, total uint32, baseName string) error {
	name, err := format.EncodeString(baseName)
	if err != nil {
		return err
	}
	hdr := format.WholeFileHeader{
		Name:             append(name, 0),
		UncompressedSize: total,
	}
	if _, err := dst.Write(format.AppendWholeFileHeader(nil, hdr)); err != nil {
		return err
	}

	bw := bufio.NewWriterSize(dst, 64*1024)
	cw := &stream.CountingWriter{W: bw}
	zw, err := zlib.NewWriterLevel(cw, w.level)
	if err != nil {
		return fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	csize, err := sizing.ToUint32(int64(cw.N), ErrRange) //nolint:gosec // bounded by the file size
	if err != nil {
		return err
	}
	hdr.CompressedSize = csize
	_, err = dst.WriteAt(format.AppendWholeFileHeader(nil, hdr), 0)
	return err
}

// encodeBlocks writes the block archive header followed by independently
// compressed chunks of w.blockSize decoded bytes. Up to w.concurrency chunks
// are compressed at once; chunks are always written in order.
func (w *Writer) encodeBlocks(dst io.Writer, src io.Reader, total uint32) error {
	bw := bufio.NewWriterSize(dst, 64*1024)
	if _, err := bw.Write(format.AppendBlockArchiveHeader(nil, total)); err != nil {
		return err
	}

	window := make([][]byte, w.concurrency)
	packed := make([][]byte, w.concurrency)
	for done := false; !done; {
		n := 0
		for n < len(window) && !done {
			if window[n] == nil {
				window[n] = make([]byte, w.blockSize)
			}
			k, err := io.ReadFull(src, window[n][:w.blockSize])
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				done = true
			case err != nil:
				return err
			}
			if k > 0 {
				window[n] = window[n][:k]
				n++
			}
		}

		var g errgroup.Group
		for i := range n {
			g.Go(func() error {
				out, err := compressChunk(window[i], w.level)
				if err != nil {
					return err
				}
				packed[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i := range n {
			h := format.BlockHeader{
				UncompressedSize: uint32(len(window[i])), //nolint:gosec // bounded by blockSize
				CompressedSize:   uint32(len(packed[i])), //nolint:gosec // bounded by zlib's worst case
			}
			if _, err := bw.Write(format.AppendBlockHeader(nil, h)); err != nil {
				return err
			}
			if _, err := bw.Write(packed[i]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// compressChunk returns the zlib encoding of p.
func compressChunk(p []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
