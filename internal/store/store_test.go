package store

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestMigrateAppliesSchemaToFreshDatabase(t *testing.T) {
	s := newTestStore(t)
	var version int
	if err := s.db.QueryRowContext(context.Background(), "PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Fatalf("expected user_version 1 after migration, got %d", version)
	}
}

func TestInsertProfileThenGetProfileRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := domain.Profile{
		ID: "id1", Fingerprint: "fp1", Source: []byte("src"), SourceFormat: "json-v2",
		Title: "Classic", DateAdded: time.Now(),
	}
	if err := s.InsertProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProfile(ctx, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != "fp1" || string(got.Source) != "src" {
		t.Fatalf("got %+v", got)
	}
}

func TestLastUploadedProfileIDPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetLastUploadedProfileID(ctx); err != nil || ok {
		t.Fatalf("expected no last-uploaded id initially, ok=%v err=%v", ok, err)
	}
	if err := s.SetLastUploadedProfileID(ctx, "id1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastUploadedProfileID(ctx, "id2"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetLastUploadedProfileID(ctx)
	if err != nil || !ok || got != "id2" {
		t.Fatalf("got (%q, %v), want (id2, true)", got, ok)
	}
}

func TestCreateSequenceThenInsertEventAndClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seq := domain.Sequence{ID: "seq1", ActiveState: domain.MachineEspresso, StartSequence: time.Now()}
	if err := s.CreateSequence(ctx, seq); err != nil {
		t.Fatal(err)
	}

	ev := domain.Event{
		Kind: domain.KindShotSample, SequenceID: "seq1", Sender: "de1", Version: "1.0.0",
		ArrivalTime: time.Now(), CreateTime: time.Now(), EventTime: time.Now(),
		Payload: domain.ShotSamplePayload{SampleTime: time.Now(), FlowRate: 1.5, VolumePour: 2.0},
	}
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	endFlow := time.Now()
	if err := s.CloseSequence(ctx, "seq1", &endFlow, time.Now(), ""); err != nil {
		t.Fatal(err)
	}

	out, err := s.ExportLegacyShot(ctx, "seq1")
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Fatal("expected non-empty legacy export")
	}
}
