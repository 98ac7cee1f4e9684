package domain

import "errors"

var (
	ErrEmptyFolderName        = errors.New("folder name is required")
	ErrFolderExists           = errors.New("folder already exists")
	ErrDefaultFolderProtected = errors.New("cannot delete the Default folder")
	ErrFolderNotFound         = errors.New("folder not found")
	ErrEmptyDescription       = errors.New("note text is required")
	ErrInvalidTimestamp       = errors.New("timestamp must be a non-negative number of seconds")
	ErrNoteNotFound           = errors.New("note not found")
	ErrNoVideoFound           = errors.New("no video found on this page")
)

// IsValidation reports whether err is a user-input failure: the operation
// was rejected before touching the Store.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyFolderName) ||
		errors.Is(err, ErrFolderExists) ||
		errors.Is(err, ErrDefaultFolderProtected) ||
		errors.Is(err, ErrEmptyDescription) ||
		errors.Is(err, ErrInvalidTimestamp)
}
