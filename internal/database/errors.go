package database

import "errors"

var (
	ErrManagerClosed   = errors.New("database manager is closed")
	ErrWriteTimeout    = errors.New("write operation timeout")
	ErrInvalidUser     = errors.New("user must have an id and a name")
	ErrInvalidRelation = errors.New("friendship must join two different users with a known status")
)
