package domain

import "errors"

var (
	ErrSnapshotNotFound  = errors.New("snapshot-not-found")
	UnexpectedStoreError = errors.New("unexpected-store-error")
)
