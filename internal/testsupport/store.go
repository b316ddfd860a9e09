package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"clipstitch/internal/config"
	"clipstitch/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewSession inserts an initiated session with the given geometry.
func NewSession(t testing.TB, st *store.Store, id, owner, challengeID string, slot int, total, chunk int64) *store.UploadSession {
	t.Helper()

	count := int((total + chunk - 1) / chunk)
	now := time.Now().UTC()
	sess := &store.UploadSession{
		ID:             id,
		Owner:          owner,
		ChallengeID:    challengeID,
		StatementIndex: slot,
		TotalSize:      total,
		ChunkSize:      chunk,
		ChunkCount:     count,
		MimeType:       "video/mp4",
		HashAlgorithm:  "sha256",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("store.CreateSession: %v", err)
	}
	return sess
}

// NewClip inserts a clip row for a statement slot pointing at path.
func NewClip(t testing.TB, st *store.Store, challengeID string, slot int, path string, durationMS int64) *store.Clip {
	t.Helper()

	clip := &store.Clip{
		ID:             fmt.Sprintf("clip-%s-%d-%d", challengeID, slot, time.Now().UnixNano()),
		ChallengeID:    challengeID,
		StatementIndex: slot,
		Owner:          "tester",
		FilePath:       path,
		ByteSize:       1,
		DurationMS:     durationMS,
		Codec: store.CodecParams{
			Container:  "mov,mp4,m4a,3gp,3g2,mj2",
			VideoCodec: "h264",
			AudioCodec: "aac",
			Width:      1080,
			Height:     1920,
			FrameRate:  30,
			PixFmt:     "yuv420p",
			SampleRate: 48000,
			Channels:   2,
		},
	}
	if err := st.InsertClip(context.Background(), clip); err != nil {
		t.Fatalf("store.InsertClip: %v", err)
	}
	return clip
}
