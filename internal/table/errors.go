package table

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists rejects a create whose exact value is already stored.
	ErrAlreadyExists = errors.New("table: entry already exists")
	// ErrInvalidArgument covers malformed keys, ttls, budgets and tokens.
	ErrInvalidArgument = errors.New("table: invalid argument")
	// ErrRemoteFailure means the forwarded copy could not be stored.
	ErrRemoteFailure = errors.New("table: remote failure")
	// ErrInvalidForward means the neighbor answered with something other than a boolean.
	ErrInvalidForward = fmt.Errorf("%w: incompatible forward reply", ErrRemoteFailure)
	// ErrNoNeighbor means there is no structured neighbor to forward to.
	ErrNoNeighbor = fmt.Errorf("%w: no structured neighbor", ErrRemoteFailure)
)
