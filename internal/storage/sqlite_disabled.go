//go:build !sqlite
// +build !sqlite

package storage

import "errors"

func openSQLite(path string) (Store, error) {
	_ = path
	return nil, errors.New("sqlite storage not built: build with -tags sqlite")
}
