package db

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestApplySchemaRunsFilesInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mock.Close()

	fsys := fstest.MapFS{
		"0002_more.sql":    {Data: []byte("CREATE TABLE b (id INT)")},
		"0001_booking.sql": {Data: []byte("CREATE TABLE a (id INT)")},
		"README.md":        {Data: []byte("not sql")},
	}

	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE b (id INT)").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, ApplySchema(context.Background(), mock, fsys, zaptest.NewLogger(t)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchemaStopsOnError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mock.Close()

	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("BROKEN")},
		"0002_b.sql": {Data: []byte("CREATE TABLE b (id INT)")},
	}

	mock.ExpectExec("BROKEN").WillReturnError(errors.New("syntax error"))

	err = ApplySchema(context.Background(), mock, fsys, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply 0001_a.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
