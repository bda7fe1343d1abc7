package app

import "errors"

var errNotObject = errors.New("envelope is not a JSON object")
