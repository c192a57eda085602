package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-dispatcher/internal/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(context.Background(), Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestSQLiteAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "delivery.db")
	st, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.Append(context.Background(), Entry{At: at, PassID: "p1", Key: "u1", Identity: "abc", Action: ActionSent}))
	require.NoError(t, st.Append(context.Background(), Entry{At: at.Add(time.Second), PassID: "p1", Key: "u4", Identity: "def", Action: ActionSendFailed, Error: "status 400"}))

	got, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u4", got[0].Key, "newest first")
	assert.Equal(t, ActionSendFailed, got[0].Action)
	assert.Equal(t, "status 400", got[0].Error)
	assert.Equal(t, "", got[1].Error)
	assert.True(t, got[1].At.Equal(at))

	got, err = st.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.db")
	st, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Append(context.Background(), Entry{PassID: "p1", Key: "u1", Identity: "abc", Action: ActionSent}))
	require.NoError(t, st.Close())

	st, err = Open(context.Background(), Config{Driver: "sqlite", DSN: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	got, err := st.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNilStoreIsDisabled(t *testing.T) {
	var s *sqlStore
	assert.True(t, IsDisabled(s.Append(context.Background(), Entry{})))
	_, err := s.Recent(context.Background(), 1)
	assert.True(t, IsDisabled(err))
	assert.NoError(t, s.Close())
}

func TestPostgresIntegrationAppendAndRecent(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("REMINDER_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set REMINDER_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	st, err := Open(context.Background(), Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	key := "it-" + time.Now().Format("150405.000000")
	require.NoError(t, st.Append(context.Background(), Entry{PassID: "it", Key: key, Identity: "abc", Action: ActionDeleteFailed, Error: "boom"}))
	got, err := st.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, key, got[0].Key)
}
