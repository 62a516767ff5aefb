package cassandra

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	queries []string
	rows    []map[string]any
	tip     int64
	err     error
	closed  bool
}

func (s *fakeSession) Select(ctx context.Context, q string) ([]map[string]any, error) {
	s.queries = append(s.queries, q)
	return s.rows, s.err
}

func (s *fakeSession) Scalar(ctx context.Context, q string, dest any) error {
	s.queries = append(s.queries, q)

	if s.err != nil {
		return s.err
	}

	*(dest.(*int64)) = s.tip
	return nil
}

func (s *fakeSession) Close() { s.closed = true }

func newTestImporter(t *testing.T, conf ImporterConfig) (*Importer, *fakeSession) {
	imp, err := NewImporter(conf)
	require.NoError(t, err)

	var sess = &fakeSession{}
	imp.newSession = func(context.Context) (session, error) { return sess, nil }
	require.NoError(t, imp.Open(context.Background()))
	return imp, sess
}

func normalize(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func TestFetchPrunesByBucket(t *testing.T) {
	var imp, sess = newTestImporter(t, ImporterConfig{URL: "cassandra://u:p@10.0.0.1:9042/blockchain_etl"})

	sess.rows = []map[string]any{{"block_number": int64(199), "bucket_id": int64(100)}}

	rows, err := imp.Fetch(context.Background(), source.Transactions, []int64{201, 199, 100, 199})
	require.NoError(t, err)
	assert.Equal(t, []source.Record{{"block_number": int64(199), "bucket_id": int64(100)}}, rows)

	assert.Equal(
		t,
		"SELECT * FROM blockchain_etl.transactions WHERE bucket_id IN (100, 200) AND block_number IN (201, 199, 100)",
		normalize(sess.queries[0]),
	)
}

func TestFetchBlocksUsesBlockWidthAndFiltering(t *testing.T) {
	var imp, sess = newTestImporter(t, ImporterConfig{
		URL:        "cassandra://10.0.0.1:9042",
		Partitions: PartitionsConfig{Blocks: 1000},
	})

	_, err := imp.Fetch(context.Background(), source.Blocks, []int64{999, 1000})
	require.NoError(t, err)

	assert.Equal(
		t,
		"SELECT * FROM blockchain_etl.blocks WHERE bucket_id IN (0, 1000) AND number IN (999, 1000) ALLOW FILTERING",
		normalize(sess.queries[0]),
	)
}

func TestFetchRangeSingleBucket(t *testing.T) {
	var imp, sess = newTestImporter(t, ImporterConfig{URL: "cassandra://10.0.0.1", Keyspace: "chain"})

	_, err := imp.FetchRange(context.Background(), source.Logs, 120, 139)
	require.NoError(t, err)

	assert.Equal(
		t,
		"SELECT * FROM chain.logs WHERE bucket_id = 100 AND block_number >= 120 AND block_number <= 139",
		normalize(sess.queries[0]),
	)
}

func TestFetchRangeAcrossBuckets(t *testing.T) {
	var imp, sess = newTestImporter(t, ImporterConfig{URL: "cassandra://10.0.0.1", Keyspace: "chain", KeyspacePrefix: "test"})

	_, err := imp.FetchRange(context.Background(), source.Logs, 150, 420)
	require.NoError(t, err)

	assert.Equal(
		t,
		"SELECT * FROM test_chain.logs WHERE bucket_id IN (100, 200, 300, 400) AND block_number >= 150 AND block_number <= 420",
		normalize(sess.queries[0]),
	)
}

func TestFetchEmptyInput(t *testing.T) {
	var imp, sess = newTestImporter(t, ImporterConfig{})

	rows, err := imp.Fetch(context.Background(), source.Blocks, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = imp.FetchRange(context.Background(), source.Logs, 10, 9)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, sess.queries)
}

func TestFetchErrorIsTransient(t *testing.T) {
	var imp, sess = newTestImporter(t, ImporterConfig{})

	sess.err = errors.New("no hosts available")

	_, err := imp.Fetch(context.Background(), source.Blocks, []int64{1})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransientFetch))
}

func TestFetchBeforeOpen(t *testing.T) {
	imp, err := NewImporter(ImporterConfig{})
	require.NoError(t, err)

	_, err = imp.Fetch(context.Background(), source.Blocks, []int64{1})
	assert.ErrorIs(t, err, errNotOpen)
}

func TestTip(t *testing.T) {
	var imp, _ = newTestImporter(t, ImporterConfig{})

	_, ok, err := imp.Tip(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	imp, sess := newTestImporter(t, ImporterConfig{TipQuery: "SELECT max_number AS tip FROM {{ .Keyspace }}.tip WHERE id = 'blocks'"})
	sess.tip = 51680906

	tip, ok, err := imp.Tip(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(51680906), tip)
	assert.Equal(t, "SELECT max_number AS tip FROM blockchain_etl.tip WHERE id = 'blocks'", sess.queries[0])

	require.NoError(t, imp.Close())
	assert.True(t, sess.closed)
}

func TestParseURL(t *testing.T) {
	e, err := parseURL(ImporterConfig{URL: "cassandra://user:secret@h1:9042,h2:9042/ks"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1:9042", "h2:9042"}, e.Hosts)
	assert.Equal(t, "user", e.Username)
	assert.Equal(t, "secret", e.Password)
	assert.Equal(t, "ks", e.Keyspace)

	_, err = parseURL(ImporterConfig{URL: "http://h1"})
	assert.Error(t, err)
}
