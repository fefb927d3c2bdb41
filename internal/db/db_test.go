package db

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSessionDefaults(t *testing.T) {
	dsn, err := withSessionDefaults("u:p@tcp(127.0.0.1:3306)/board")
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "'READ-COMMITTED'", cfg.Params["transaction_isolation"])
	assert.Equal(t, "board", cfg.DBName)

	dsn, err = withSessionDefaults("u:p@tcp(127.0.0.1:3306)/board?transaction_isolation=%27SERIALIZABLE%27")
	require.NoError(t, err)
	cfg, err = mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "'SERIALIZABLE'", cfg.Params["transaction_isolation"])

	_, err = withSessionDefaults("not a dsn")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	conn, err := OpenStore(StoreOpts{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, "sqlite", conn.DriverName())

	_, err = OpenStore(StoreOpts{Driver: "postgres", DSN: "x"})
	assert.Error(t, err)
	_, err = NewSQLiteConnection("", SQLiteOpts{})
	assert.Error(t, err)
}

func TestPingTimeoutOr(t *testing.T) {
	assert.Equal(t, time.Second, pingTimeoutOr(0, time.Second))
	assert.Equal(t, 2*time.Second, pingTimeoutOr(2*time.Second, time.Second))
}

func TestRedisOptions(t *testing.T) {
	ro, err := redisOptions(RedisOpts{Addr: "127.0.0.1:6379", Password: "pw", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", ro.Addr)
	assert.Equal(t, 2, ro.DB)
	assert.Equal(t, 5*time.Second, ro.DialTimeout)

	ro, err = redisOptions(RedisOpts{Addr: "redis://:secret@cache:6380/3", DB: 1, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", ro.Addr)
	assert.Equal(t, "secret", ro.Password)
	assert.Equal(t, 3, ro.DB)
	assert.Equal(t, time.Second, ro.DialTimeout)

	_, err = redisOptions(RedisOpts{Addr: "redis://cache/notadb"})
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)

	rdb, err := NewRedisClient(RedisOpts{Addr: "redis://" + m.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	assert.NoError(t, rdb.Set(testContext(t), "k", "v", 0).Err())
	m.CheckGet(t, "k", "v")

	m.Close()
	_, err = NewRedisClient(RedisOpts{Addr: m.Addr(), DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
