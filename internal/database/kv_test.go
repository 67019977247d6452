package database

import (
	"context"
	"testing"

	"syncqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, ok, err := db.GetValue(ctx, models.KeyDeviceRegisterSuccess)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.SetValue(ctx, models.KeyDeviceRegisterSuccess, "false")
	require.NoError(t, err)
	_, err = db.SetValue(ctx, models.KeyDeviceRegisterSuccess, "true")
	require.NoError(t, err)

	v, ok, err := db.GetValue(ctx, models.KeyDeviceRegisterSuccess)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	rows, err := db.Read(ctx, models.TableKV, []string{"key", "value"}, "", nil...)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.KeyDeviceRegisterSuccess, rows[0]["key"])
}

func TestReadQueueColumns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.Insert(ctx, &models.QueueRow{MsgID: "m1", Priority: 2, Request: `{}`})
	require.NoError(t, err)

	rows, err := db.Read(ctx, models.TableQueue, []string{"msg_id", "priority"}, "priority = ?", 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0]["msg_id"])
	assert.EqualValues(t, 2, rows[0]["priority"])
}

func TestReadValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.Read(ctx, models.TableKV, nil, "")
	assert.Error(t, err)
	_, err = db.Read(ctx, "sqlite_master", []string{"name"}, "")
	assert.ErrorIs(t, err, ErrUnknownTable)
	_, err = db.Read(ctx, models.TableKV, []string{"*"}, "")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestReadPredicate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.Insert(ctx, &models.QueueRow{MsgID: "m1", Type: "telemetry", Priority: 2, Request: `{}`})
	require.NoError(t, err)
	_, err = db.Insert(ctx, &models.QueueRow{MsgID: "m2", Type: "telemetry", Priority: 3, Request: `{}`})
	require.NoError(t, err)

	rows, err := db.Read(ctx, models.TableQueue, []string{"msg_id"}, "type = ? and priority = ?", "telemetry", 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m2", rows[0]["msg_id"])

	for _, where := range []string{
		"1 = 1 OR msg_id = ?",
		"msg_id = ?; DROP TABLE network_queue",
		"msg_id LIKE ?",
	} {
		_, err = db.Read(ctx, models.TableQueue, []string{"msg_id"}, where, "x")
		assert.ErrorIs(t, err, ErrBadPredicate, where)
	}

	_, err = db.Read(ctx, models.TableQueue, []string{"msg_id"}, "secret = ?", "x")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = db.Read(ctx, models.TableQueue, []string{"msg_id"}, "msg_id = ?")
	assert.ErrorIs(t, err, ErrBadPredicate)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
