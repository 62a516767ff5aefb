package ch

import (
	"errors"
	"io"
	"net"
	"syscall"

	chproto "github.com/ClickHouse/ch-go/proto"
	"github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"github.com/agnosticeng/agnostic-blockchain-sync/internal/errs"
	"github.com/samber/lo"
)

var (
	transientCodes = []chproto.Error{
		chproto.ErrMemoryLimitExceeded,
		chproto.ErrTooManyParts,
		chproto.ErrTimeoutExceeded,
		chproto.ErrTooManySimultaneousQueries,
		chproto.ErrSocketTimeout,
		chproto.ErrNetworkError,
	}
	permanentCodes = []chproto.Error{
		chproto.ErrUnknownTable,
		chproto.ErrUnknownDatabase,
		chproto.ErrSyntaxError,
	}
)

// Classify tags a ClickHouse error with the kind the executor and engine act on.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if ex, ok := lo.ErrorsAs[*proto.Exception](err); ok {
		var code = chproto.Error(ex.Code)

		if lo.Contains(permanentCodes, code) {
			return errs.Permanent(op, err)
		}

		if lo.Contains(transientCodes, code) {
			return errs.TransientWrite(op, err)
		}

		return errs.New(errs.KindUnknown, op, err)
	}

	if isBrokenConn(err) {
		return errs.Connection(op, err)
	}

	return errs.TransientWrite(op, err)
}

func isBrokenConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
