package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisEventPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	examID := uuid.New()
	sub := rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisEventPublisher(rdb)
	ev := MonitorEvent{
		Type:      EventSessionSubmitted,
		ExamID:    examID,
		SessionID: uuid.New(),
		StudentID: 7,
		Status:    model.SessionStatusSubmitted,
		At:        time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(ctx, examID, ev))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got MonitorEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ev, got)
}
