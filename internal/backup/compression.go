package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"acore-backup/internal/errors"
)

const streamBufferSize = 256 * 1024

// compressedFile streams gzip output to a file on disk. Close flushes the
// gzip trailer, syncs and closes the file, in that order.
type compressedFile struct {
	file *os.File
	buf  *bufio.Writer
	gz   *gzip.Writer
	cw   *countingWriter
}

func createCompressedFile(path string, level int) (*compressedFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to create dump file %s", path))
	}

	cw := &countingWriter{w: file}
	buf := bufio.NewWriterSize(cw, streamBufferSize)
	gz, err := gzip.NewWriterLevel(buf, level)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.NewInputError(fmt.Sprintf("invalid gzip level %d", level))
	}

	return &compressedFile{file: file, buf: buf, gz: gz, cw: cw}, nil
}

func (c *compressedFile) Write(p []byte) (int, error) {
	return c.gz.Write(p)
}

func (c *compressedFile) WriteString(s string) (int, error) {
	return io.WriteString(c.gz, s)
}

// Close finalizes the stream and returns the compressed size on disk
func (c *compressedFile) Close() (int64, error) {
	if err := c.gz.Close(); err != nil {
		c.file.Close()
		return 0, errors.WrapError(err, "failed to finish gzip stream")
	}
	if err := c.buf.Flush(); err != nil {
		c.file.Close()
		return 0, errors.WrapError(err, "failed to flush dump file")
	}
	if err := c.file.Sync(); err != nil {
		c.file.Close()
		return 0, errors.WrapError(err, "failed to sync dump file")
	}
	if err := c.file.Close(); err != nil {
		return 0, errors.WrapError(err, "failed to close dump file")
	}
	return c.cw.n, nil
}

// Abort closes the file without finishing the gzip stream
func (c *compressedFile) Abort() {
	c.file.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// compressedReader decompresses a dump file as a stream
type compressedReader struct {
	file *os.File
	gz   *gzip.Reader
}

func openCompressedFile(path string) (*compressedReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to open dump file %s", path))
	}

	gz, err := gzip.NewReader(bufio.NewReaderSize(file, streamBufferSize))
	if err != nil {
		file.Close()
		return nil, errors.NewValidationError("failed to decompress dump file", err)
	}
	return &compressedReader{file: file, gz: gz}, nil
}

func (r *compressedReader) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *compressedReader) Close() error {
	gzErr := r.gz.Close()
	if err := r.file.Close(); err != nil {
		return err
	}
	return gzErr
}
