package archive

import (
	"bytes"

	"github.com/xitongsys/parquet-go/source"
)

// memoryFileWriter satisfies the parquet source.ParquetFile interface
// over an in-memory buffer, so files are built without touching disk.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (m *memoryFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }

func (m *memoryFileWriter) Open(string) (source.ParquetFile, error) { return m, nil }

func (m *memoryFileWriter) Seek(int64, int) (int64, error) {
	// Write-only usage; the parquet writer never seeks backwards here.
	return int64(m.buffer.Len()), nil
}

func (m *memoryFileWriter) Read(b []byte) (int, error) { return m.buffer.Read(b) }

func (m *memoryFileWriter) Write(b []byte) (int, error) { return m.buffer.Write(b) }

func (m *memoryFileWriter) Close() error { return nil }

func (m *memoryFileWriter) Bytes() []byte { return m.buffer.Bytes() }
