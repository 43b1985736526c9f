package lzma2mt

import (
	"bytes"
	"io"
	"testing"
)

func TestDecoderEmptyPayloadNoHash(t *testing.T) {
	t.Parallel()
	d := NewDecoder(1)
	dst := make([]byte, 0)
	n, err := d.Decompress(dst, buildEmptyStream(false))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

func TestDecoderEmptyPayloadWithHash(t *testing.T) {
	t.Parallel()
	d := NewDecoder(1)
	n, err := d.Decompress(nil, buildEmptyStream(true))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

func TestDecoderSingleUncompressedChunk(t *testing.T) {
	t.Parallel()
	data := []byte("a short uncompressed payload")
	d := NewDecoder(1)
	dst := make([]byte, len(data))
	n, err := d.Decompress(dst, buildUncompressedStream(data, true))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(dst[:n], data) {
		t.Fatalf("decoded = %q, want %q", dst[:n], data)
	}
}

func TestDecoderSingleLzmaChunk(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 20)
	props := Props{LC: 3, LP: 0, PB: 2}
	d := NewDecoder(1)
	dst := make([]byte, len(data))
	n, err := d.Decompress(dst, buildSingleChunkStream(data, props, true))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(dst[:n], data) {
		t.Fatalf("decoded mismatch, got %d bytes want %d", n, len(data))
	}
}

func TestDecoderBadChecksumRejected(t *testing.T) {
	t.Parallel()
	data := []byte("payload whose checksum will be corrupted")
	stream := buildUncompressedStream(data, true)
	stream[len(stream)-1] ^= 0xFF

	d := NewDecoder(1)
	dst := make([]byte, len(data))
	if _, err := d.Decompress(dst, stream); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestDecoderTruncatedStreamMissingFinalMarker(t *testing.T) {
	t.Parallel()
	data := []byte("incomplete")
	stream := buildUncompressedStream(data, false)
	truncated := stream[:len(stream)-1] // drop the FINAL marker byte

	d := NewDecoder(1)
	dst := make([]byte, len(data))
	if _, err := d.Decompress(dst, truncated); err == nil {
		t.Fatal("expected an error for a stream missing its final marker")
	}
}

func TestFindDecompressedSize(t *testing.T) {
	t.Parallel()
	data := []byte("some bytes of known size for FindDecompressedSize")
	body := buildUncompressedStream(data, false)[1:] // strip the leading property byte

	size, err := FindDecompressedSize(body)
	if err != nil {
		t.Fatalf("FindDecompressedSize: %v", err)
	}
	if size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", size, len(data))
	}
}

func TestFindDecompressedSizeUnknownOnTruncatedPrefix(t *testing.T) {
	t.Parallel()
	size, err := FindDecompressedSize([]byte{0x01, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != ContentSizeUnknown {
		t.Fatalf("size = %d, want ContentSizeUnknown", size)
	}
}

func TestNewReaderRoundTrip(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("streamed content "), 100)
	props := Props{LC: 2, LP: 0, PB: 0}
	stream := buildSingleChunkStream(data, props, true)

	r := NewReader(bytes.NewReader(stream), 2)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestEstimateSizesAreNonZeroAndMonotonicInThreads(t *testing.T) {
	t.Parallel()
	if EstimateDecoderSize(1) == 0 {
		t.Fatal("EstimateDecoderSize(1) = 0")
	}
	if EstimateDecoderSize(4) <= EstimateDecoderSize(1) {
		t.Fatal("EstimateDecoderSize should grow with nbThreads")
	}
	if EstimateStreamDecoderSize(1<<20, 1) == 0 {
		t.Fatal("EstimateStreamDecoderSize(...) = 0")
	}
	if EstimateStreamDecoderSize(1<<20, 4) <= EstimateStreamDecoderSize(1<<20, 1) {
		t.Fatal("EstimateStreamDecoderSize should grow with nbThreads")
	}
}
