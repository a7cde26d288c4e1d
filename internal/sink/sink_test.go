package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/socialminer/crawler/internal/engine"
)

func testItem(key string) engine.NormalizedItem {
	payload, _ := json.Marshal(map[string]string{"id": key})
	return engine.NormalizedItem{
		Platform:     "goofish",
		Key:          key,
		Payload:      payload,
		TaskID:       "t1",
		DiscoveredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestMemory_PutDedups(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	res, err := m.Put(ctx, testItem("111"))
	require.NoError(t, err)
	require.Equal(t, engine.PutOK, res)

	res, err = m.Put(ctx, testItem("111"))
	require.NoError(t, err)
	require.Equal(t, engine.PutDuplicate, res)

	// same key on another platform is a distinct item
	other := testItem("111")
	other.Platform = "xhs"
	res, err = m.Put(ctx, other)
	require.NoError(t, err)
	require.Equal(t, engine.PutOK, res)

	require.Equal(t, 2, m.Len())
}

func TestMemory_ItemsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		_, err := m.Put(ctx, testItem(k))
		require.NoError(t, err)
	}

	items := m.Items()
	require.Len(t, items, 3)
	require.Equal(t, "c", items[0].Key)
	require.Equal(t, "a", items[1].Key)
	require.Equal(t, "b", items[2].Key)
}

func TestJSONL_AppendsOneLinePerItem(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "items.jsonl")
	j, err := NewJSONL(path)
	require.NoError(t, err)

	ctx := context.Background()
	for _, k := range []string{"111", "222", "111"} {
		_, err := j.Put(ctx, testItem(k))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []engine.NormalizedItem
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var item engine.NormalizedItem
		require.NoError(t, json.Unmarshal(sc.Bytes(), &item))
		lines = append(lines, item)
	}
	require.NoError(t, sc.Err())

	// the duplicate 111 never hits the file
	require.Len(t, lines, 2)
	require.Equal(t, "111", lines[0].Key)
	require.Equal(t, "222", lines[1].Key)
}

func TestPostgres_PutInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := NewPostgresWithDB(mock)
	item := testItem("111")

	mock.ExpectExec("INSERT INTO crawl_items").
		WithArgs(item.Platform, item.Key, item.TaskID, []byte(item.Payload), item.DiscoveredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := p.Put(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, engine.PutOK, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ConflictReportsDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := NewPostgresWithDB(mock)
	item := testItem("111")

	mock.ExpectExec("INSERT INTO crawl_items").
		WithArgs(item.Platform, item.Key, item.TaskID, []byte(item.Payload), item.DiscoveredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	res, err := p.Put(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, engine.PutDuplicate, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDedup_KeyShape(t *testing.T) {
	t.Parallel()

	require.Equal(t, "crawl:seen:goofish:111", dedupKey(testItem("111")))
}
