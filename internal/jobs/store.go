package jobs

import (
	"context"
	"errors"
	"strings"
)

// Store persists job records keyed by id.
//
// Save fully replaces the stored record; concurrent saves for one id are last
// writer wins. FindByID reports a missing id with found=false, not an error.
// FindAll skips entries that cannot be decoded. Delete of a missing id is a no-op.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	FindByID(ctx context.Context, id string) (rec *Record, found bool, err error)
	FindAll(ctx context.Context) ([]*Record, error)
	Delete(ctx context.Context, id string) error
}

var ErrInvalidID = errors.New("invalid job id")

// ValidateID rejects ids that could escape a storage namespace.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}
