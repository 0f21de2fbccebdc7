package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorSnapshot(t *testing.T) {
	f := newFixture(t, newExam())
	ctx := context.Background()

	a := f.start(t, 7)
	b := f.start(t, 8)
	f.start(t, 9)
	require.NoError(t, f.svc.ReportSecurityFlag(ctx, Actor{StudentID: 7, SchoolID: schoolID}, a.ID, model.FlagTabSwitch, ""))
	require.NoError(t, f.svc.ReportSecurityFlag(ctx, Actor{StudentID: 7, SchoolID: schoolID}, a.ID, model.FlagFocusLost, ""))
	require.NoError(t, f.svc.PauseSession(ctx, schoolID, b.ID))
	_, err := f.svc.Submit(ctx, Actor{StudentID: 9, SchoolID: schoolID}, f.exam.ID, f.store.Sessions(f.exam.ID, 9)[0].ID, nil)
	require.NoError(t, err)

	mon := NewMonitorService(f.store, f.store)
	snap, err := mon.Snapshot(ctx, schoolID, f.exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Biology midterm", snap.ExamTitle)
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, 1, snap.InProgress)
	assert.Equal(t, 1, snap.Paused)
	assert.Equal(t, 2, snap.TotalFlags)
	assert.Equal(t, 7, snap.Sessions[0].StudentID)
	assert.Equal(t, 1, snap.Sessions[0].TabSwitchCount)

	_, err = mon.Snapshot(ctx, schoolID, uuid.New())
	assertCode(t, err, CodeNotFound)
}
