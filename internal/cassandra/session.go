package cassandra

import (
	"context"
	"errors"
	"strings"

	"github.com/gocql/gocql"
)

var errNotOpen = errors.New("cassandra importer is not open")

type session interface {
	Select(ctx context.Context, q string) ([]map[string]any, error)
	Scalar(ctx context.Context, q string, dest any) error
	Close()
}

type gocqlSession struct {
	s *gocql.Session
}

func newGocqlSession(conf ImporterConfig, e endpoint) (*gocqlSession, error) {
	consistency, err := gocql.ParseConsistencyWrapper(strings.ToUpper(conf.Consistency))

	if err != nil {
		return nil, err
	}

	var cluster = gocql.NewCluster(e.Hosts...)

	cluster.Keyspace = e.Keyspace
	cluster.ConnectTimeout = conf.ConnectTimeout
	cluster.Timeout = conf.Timeout
	cluster.NumConns = conf.NumConns
	cluster.Consistency = consistency
	cluster.ReconnectInterval = conf.ConnectTimeout

	if len(e.Username) > 0 {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: e.Username,
			Password: e.Password,
		}
	}

	s, err := cluster.CreateSession()

	if err != nil {
		return nil, err
	}

	return &gocqlSession{s: s}, nil
}

func (gs *gocqlSession) Select(ctx context.Context, q string) ([]map[string]any, error) {
	var (
		iter      = gs.s.Query(q).WithContext(ctx).Iter()
		rows, err = iter.SliceMap()
	)

	if cerr := iter.Close(); err == nil {
		err = cerr
	}

	return rows, err
}

func (gs *gocqlSession) Scalar(ctx context.Context, q string, dest any) error {
	return gs.s.Query(q).WithContext(ctx).Scan(dest)
}

func (gs *gocqlSession) Close() {
	gs.s.Close()
}

type closedSession struct{}

func (closedSession) Select(context.Context, string) ([]map[string]any, error) {
	return nil, errNotOpen
}

func (closedSession) Scalar(context.Context, string, any) error {
	return errNotOpen
}

func (closedSession) Close() {}
