package recordstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// ErrChecksumMismatch is returned when stored content no longer hashes to
// the checksum recorded at write time.
var ErrChecksumMismatch = errors.New("payload checksum mismatch")

// ErrNoBlobStore is returned when a cold payload is written or read without
// a configured blob store.
var ErrNoBlobStore = errors.New("cold payloads need a blob store")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func checksum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// encode places content in the tier chosen by declared (or by size when
// declared is empty) and fills the stored representation. Cold content is
// uploaded before any lock is taken.
func (s *Store) encode(ctx context.Context, recordID string, content string, declared memcube.StorageMode, tokens int) (memcube.Payload, error) {
	size := len(content)
	mode := declared
	if mode == "" {
		mode = memcube.ModeForSize(size)
	}
	if limit := mode.Limit(); limit >= 0 && size > limit {
		return memcube.Payload{}, storage.PayloadTooLargeError{Mode: string(mode), Size: size, Limit: limit}
	}
	if tokens <= 0 {
		tokens = memcube.ApproxTokens(content)
	}

	p := memcube.Payload{
		StorageMode: mode,
		TokenCount:  tokens,
		Size:        size,
		Checksum:    checksum(content),
		CreatedAt:   s.now(),
	}

	switch mode {
	case memcube.StorageInline:
		p.Data = []byte(content)
	case memcube.StorageCompressed:
		p.Data = encoder.EncodeAll([]byte(content), nil)
	case memcube.StorageCold:
		if s.blobs == nil {
			return memcube.Payload{}, ErrNoBlobStore
		}
		key := fmt.Sprintf("records/%s/%s", recordID, ulid.Make().String())
		putCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		ref, err := s.blobs.Put(putCtx, key, []byte(content))
		if err != nil {
			return memcube.Payload{}, fmt.Errorf("storing cold payload: %w", err)
		}
		p.BlobRef = ref
	default:
		return memcube.Payload{}, fmt.Errorf("%w: unknown storage mode %q", memcube.ErrInvalidRecord, mode)
	}
	return p, nil
}

// decode fills p.Content from its stored representation and verifies the
// checksum.
func (s *Store) decode(ctx context.Context, p *memcube.Payload) error {
	var content string
	switch p.StorageMode {
	case memcube.StorageInline:
		content = string(p.Data)
	case memcube.StorageCompressed:
		raw, err := decoder.DecodeAll(p.Data, nil)
		if err != nil {
			return fmt.Errorf("decompressing payload v%d: %w", p.Version, err)
		}
		content = string(raw)
	case memcube.StorageCold:
		if s.blobs == nil {
			return ErrNoBlobStore
		}
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		raw, err := s.blobs.Get(fetchCtx, p.BlobRef)
		if err != nil {
			return fmt.Errorf("fetching cold payload v%d: %w", p.Version, err)
		}
		content = string(raw)
	default:
		return fmt.Errorf("%w: unknown storage mode %q", memcube.ErrInvalidRecord, p.StorageMode)
	}

	if p.Checksum != "" && checksum(content) != p.Checksum {
		return fmt.Errorf("%w: payload v%d", ErrChecksumMismatch, p.Version)
	}
	p.Content = content
	return nil
}

// discard removes an uploaded cold payload that never got committed.
func (s *Store) discard(p memcube.Payload) {
	if p.BlobRef == "" || s.blobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, p.BlobRef); err != nil {
		s.logger.Warn("orphaned cold payload", "ref", p.BlobRef, "error", err)
	}
}

func newID() string {
	return ulid.Make().String()
}
