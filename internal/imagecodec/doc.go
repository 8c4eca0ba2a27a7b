// Package imagecodec turns transfer payloads into decoded images.
//
// Payloads at or below the streaming threshold are buffered in memory;
// larger ones are spooled to a temporary file in fixed-size chunks and
// decoded from disk. The temporary file is removed on every path.
package imagecodec
