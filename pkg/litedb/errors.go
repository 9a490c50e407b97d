package litedb

import "errors"

// Sentinel errors covering the engine's closed error taxonomy. There is no
// Io sentinel: file-system errors are returned as they are or wrapped (via
// %w), so the underlying *os.PathError / io.EOF stays reachable through
// errors.Is / errors.As. The exception is where the codec or the WAL reports
// a failed write or read as ErrEncoding or ErrDecoding: there the underlying
// error appears only as text in the message.
var (
	// ErrEncoding is returned when a value cannot be serialized into the
	// on-disk binary format.
	ErrEncoding = errors.New("litedb: encoding error")
	// ErrDecoding is returned when on-disk bytes cannot be parsed back into
	// a value.
	ErrDecoding = errors.New("litedb: decoding error")
	// ErrCorruptedData is returned when a WAL record's checksum disagrees
	// with its recomputed CRC32-C.
	ErrCorruptedData = errors.New("litedb: corrupted data")
	// ErrPolicy is returned for an unrecognized policy configuration.
	ErrPolicy = errors.New("litedb: policy error")
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("litedb: engine closed")
)
