package ch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	chproto "github.com/ClickHouse/ch-go/proto"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	lock     sync.Mutex
	dials    int
	closed   int
	queries  []string
	execErrs []error
}

func (srv *fakeServer) dial(ctx context.Context) (driver.Conn, error) {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	srv.dials++
	return &fakeConn{srv: srv}, nil
}

func (srv *fakeServer) closedConns() int {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	return srv.closed
}

func (srv *fakeServer) inserts() []string {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	var res []string

	for _, q := range srv.queries {
		if strings.HasPrefix(q, "INSERT") {
			res = append(res, q)
		}
	}

	return res
}

type fakeConn struct {
	driver.Conn
	srv *fakeServer
}

func (c *fakeConn) Exec(ctx context.Context, q string, args ...any) error {
	c.srv.lock.Lock()
	defer c.srv.lock.Unlock()

	c.srv.queries = append(c.srv.queries, q)

	if len(c.srv.execErrs) > 0 {
		var err = c.srv.execErrs[0]
		c.srv.execErrs = c.srv.execErrs[1:]
		return err
	}

	return nil
}

func (c *fakeConn) Select(ctx context.Context, dest any, q string, args ...any) error {
	var (
		v   = reflect.ValueOf(dest).Elem()
		row = reflect.New(v.Type().Elem()).Elem()
	)

	row.Field(0).SetString("24.8.4.13")
	v.Set(reflect.Append(v, row))
	return nil
}

func (c *fakeConn) Close() error {
	c.srv.lock.Lock()
	defer c.srv.lock.Unlock()

	c.srv.closed++
	return nil
}

func newTestExporter(t *testing.T, conf ExporterConfig) (*Exporter, *fakeServer) {
	exp, err := NewExporter(conf, nil)
	require.NoError(t, err)

	var srv = &fakeServer{}
	exp.newPool = func() (*Pool, error) { return newPool(exp.conf.Pool, srv.dial) }
	require.NoError(t, exp.Open(context.Background()))
	t.Cleanup(func() { exp.Close() })
	return exp, srv
}

func TestOpenBootstrapsSchema(t *testing.T) {
	var _, srv = newTestExporter(t, ExporterConfig{DBPrefix: "bsc"})

	require.Len(t, srv.queries, 1+len(schemaTemplates))
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS bsc_blockchain_etl", strings.TrimSpace(srv.queries[0]))

	for _, q := range srv.queries[1:] {
		assert.Contains(t, q, "CREATE TABLE IF NOT EXISTS bsc_blockchain_etl.")
		assert.Contains(t, q, "ENGINE = ReplacingMergeTree(update_at)")
		assert.Contains(t, q, "TTL update_at + INTERVAL 30 DAY")
	}
}

func TestOpenWithoutTTL(t *testing.T) {
	var _, srv = newTestExporter(t, ExporterConfig{TTL: "none"})

	for _, q := range srv.queries {
		assert.NotContains(t, q, "TTL")
	}
}

func TestUpsert(t *testing.T) {
	var exp, srv = newTestExporter(t, ExporterConfig{})

	err := exp.Upsert(context.Background(), source.Blocks, []source.Record{
		{"number": int64(1), "bucket_id": int64(0), "hash": "0x1", "withdrawals": nil},
		{"number": int64(2), "bucket_id": int64(0), "hash": "0x2"},
	})

	require.NoError(t, err)
	require.Len(t, srv.inserts(), 1)
	assert.Equal(
		t,
		"INSERT INTO blockchain_etl.blocks FORMAT JSONEachRow\n"+
			`{"hash":"0x1","number":1,"withdrawals":[]}`+"\n"+
			`{"hash":"0x2","number":2}`+"\n",
		srv.inserts()[0],
	)
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	var exp, srv = newTestExporter(t, ExporterConfig{})

	require.NoError(t, exp.Upsert(context.Background(), source.Logs, nil))
	assert.Empty(t, srv.inserts())
}

func TestUpsertRetriesOnBrokenConnection(t *testing.T) {
	var exp, srv = newTestExporter(t, ExporterConfig{})

	srv.execErrs = []error{fmt.Errorf("write: %w", io.EOF)}

	require.NoError(t, exp.Upsert(context.Background(), source.Transactions, []source.Record{{"block_number": int64(7)}}))
	assert.Len(t, srv.inserts(), 2)
	assert.Equal(t, 2, srv.dials)
	assert.Eventually(t, func() bool { return srv.closedConns() == 1 }, time.Second, 10*time.Millisecond)
}

func TestUpsertClassifiesErrors(t *testing.T) {
	var exp, srv = newTestExporter(t, ExporterConfig{})

	srv.execErrs = []error{&proto.Exception{Code: int32(chproto.ErrTooManyParts), Message: "too many parts"}}

	var err = exp.Upsert(context.Background(), source.Logs, []source.Record{{"block_number": int64(7)}})
	require.Error(t, err)
	assert.Equal(t, errs.KindTransientWrite, errs.KindOf(err))

	srv.execErrs = []error{io.EOF, io.EOF}

	err = exp.Upsert(context.Background(), source.Logs, []source.Record{{"block_number": int64(7)}})
	require.Error(t, err)
	assert.Equal(t, errs.KindConnection, errs.KindOf(err))
}

func TestUpsertBeforeOpen(t *testing.T) {
	exp, err := NewExporter(ExporterConfig{}, nil)
	require.NoError(t, err)

	assert.Error(t, exp.Upsert(context.Background(), source.Blocks, []source.Record{{"number": int64(1)}}))
}

func TestClassify(t *testing.T) {
	var cases = []struct {
		err  error
		kind errs.Kind
	}{
		{&proto.Exception{Code: int32(chproto.ErrMemoryLimitExceeded)}, errs.KindTransientWrite},
		{fmt.Errorf("wrapped: %w", &proto.Exception{Code: int32(chproto.ErrTimeoutExceeded)}), errs.KindTransientWrite},
		{&proto.Exception{Code: int32(chproto.ErrUnknownTable)}, errs.KindPermanent},
		{&proto.Exception{Code: int32(chproto.ErrSyntaxError)}, errs.KindPermanent},
		{&proto.Exception{Code: 497, Name: "ACCESS_DENIED"}, errs.KindUnknown},
		{io.ErrUnexpectedEOF, errs.KindConnection},
		{errors.New("boom"), errs.KindTransientWrite},
	}

	for _, c := range cases {
		assert.Equal(t, c.kind, errs.KindOf(Classify("insert", c.err)), c.err.Error())
	}

	assert.NoError(t, Classify("insert", nil))
}

func TestPoolRecyclesExpiredConnections(t *testing.T) {
	var srv = &fakeServer{}

	pool, err := newPool(PoolConfig{MaxConnLifetime: 50 * time.Millisecond, MaxConns: 1}, srv.dial)
	require.NoError(t, err)
	defer pool.Close()

	var noop = func(ctx context.Context, conn driver.Conn) error { return nil }

	require.NoError(t, pool.Do(context.Background(), noop))
	require.NoError(t, pool.Do(context.Background(), noop))
	assert.Equal(t, 1, srv.dials)

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, pool.Do(context.Background(), noop))
	assert.Equal(t, 2, srv.dials)
	assert.Eventually(t, func() bool { return srv.closedConns() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSettings(t *testing.T) {
	assert.Equal(
		t,
		clickhouse.Settings{"max_memory_usage": "1000", "async_insert": "1"},
		ParseSettings([]string{"MaxMemoryUsage=1000", "async_insert=1"}),
	)

	assert.Equal(
		t,
		clickhouse.Settings{"input_format_skip_unknown_fields": 0, "date_time_input_format": "best_effort"},
		mergeSettings(DefaultQuerySettings, clickhouse.Settings{"InputFormatSkipUnknownFields": 0}),
	)
}
