package edits

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/diff"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

const (
	draftLetter = "Dear Dr. Smith,\n\nHistory:\nChest pain.\n\nSocial history:\nSmoker.\n\nPlan:\nECG."
	finalLetter = "Dear Dr. Smith,\n\nHistory:\nChest pain for 2 weeks.\n\nExamination:\nNormal.\n\nPlan:\nECG."
)

type fakeStore struct {
	edits    []style.Edit
	entries  []audit.Entry
	err      error
	auditErr error
}

func (f *fakeStore) InsertEdits(_ context.Context, edits []style.Edit, entry audit.Entry) (error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.edits = append(f.edits, edits...)
	if f.auditErr != nil {
		return f.auditErr, nil
	}
	f.entries = append(f.entries, entry)
	return nil, nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestExtract_OnlyAddedAndModified(t *testing.T) {
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	d := diff.Analyze(draftLetter, finalLetter, "cardiology")
	got := Extract(d, Letter{UserID: "u1", LetterID: "l1", Subspecialty: "cardiology"}, now)

	require.Len(t, got, 2)
	byType := map[sections.Type]style.Edit{}
	for _, e := range got {
		byType[e.SectionType] = e
	}

	hist, ok := byType[sections.History]
	require.True(t, ok)
	assert.Equal(t, style.EditModification, hist.EditType)
	assert.Equal(t, "Chest pain.", hist.BeforeText)
	assert.Equal(t, "Chest pain for 2 weeks.", hist.AfterText)
	assert.Equal(t, 3, hist.WordChanges)
	assert.Equal(t, 12, hist.CharacterChanges)

	exam, ok := byType[sections.Examination]
	require.True(t, ok)
	assert.Equal(t, style.EditAddition, exam.EditType)
	assert.Empty(t, exam.BeforeText)

	assert.NotContains(t, byType, sections.SocialHistory, "removed sections are not recorded")
	assert.NotContains(t, byType, sections.Plan, "unchanged sections are not recorded")
	for _, e := range got {
		assert.Equal(t, "u1", e.UserID)
		assert.Equal(t, "cardiology", e.Subspecialty)
		assert.Equal(t, now, e.CreatedAt)
	}
}

func TestRecorder_Record(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, nil, discard)

	res, err := r.Record(context.Background(), Letter{UserID: "u1", LetterID: "l1", Subspecialty: "cardiology"}, draftLetter, finalLetter)
	require.NoError(t, err)
	assert.Len(t, res.Edits, 2)
	assert.Len(t, st.edits, 2)
	require.Len(t, st.entries, 1)
	assert.Equal(t, audit.ActionEditsRecorded, st.entries[0].Action)
	assert.Equal(t, "l1", st.entries[0].ResourceID)
	assert.Equal(t, 2, st.entries[0].Metadata["edits"])
}

func TestRecorder_NoChangesWritesNothing(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, nil, discard)

	res, err := r.Record(context.Background(), Letter{UserID: "u1", LetterID: "l1"}, draftLetter, draftLetter)
	require.NoError(t, err)
	assert.Empty(t, res.Edits)
	assert.Empty(t, st.edits)
	assert.Empty(t, st.entries)
}

func TestRecorder_AuditFailureKeepsEdits(t *testing.T) {
	st := &fakeStore{auditErr: errors.New("audit table locked")}
	r := NewRecorder(st, nil, discard)

	res, err := r.Record(context.Background(), Letter{UserID: "u1", LetterID: "l1"}, draftLetter, finalLetter)
	require.NoError(t, err)
	assert.Len(t, res.Edits, 2)
	assert.Len(t, st.edits, 2)
}

func TestRecorder_StoreFailure(t *testing.T) {
	st := &fakeStore{err: errors.New("connection refused")}
	r := NewRecorder(st, nil, discard)

	res, err := r.Record(context.Background(), Letter{UserID: "u1", LetterID: "l1"}, draftLetter, finalLetter)
	require.Error(t, err)
	assert.Empty(t, res.Edits)
	assert.True(t, res.Diff.HasChanges())
}
