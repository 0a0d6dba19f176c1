package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorUnauthenticated = errors.New("unauthenticated")
