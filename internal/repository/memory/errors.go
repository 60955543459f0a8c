package memory

import "errors"

var (
	errFailSave  = errors.New("memory: injected save failure")
	errDuplicate = errors.New("memory: duplicate order id")
)
