package common

import "fmt"

// StoreErrType enumerates the failures returned by the in-memory graph and the
// persistent event log.
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// TooLate is returned for items that are already below the expired
	// threshold.
	TooLate
	// UnknownParent is returned when an item references a parent that is
	// neither present nor expired.
	UnknownParent
	// Empty ...
	Empty
	// Closed is returned by stores that have been shut down.
	Closed
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case TooLate:
		m = "Too Late"
	case UnknownParent:
		m = "Unknown Parent"
	case Empty:
		m = "Empty"
	case Closed:
		m = "Closed"
	}
	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that it's code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
