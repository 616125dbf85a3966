package api

import (
	"errors"
	"fmt"
)

var errMalformedJSON = errors.New("malformed JSON body")

func errMissingKeyf(key string) error {
	return fmt.Errorf("missing required key %q", key)
}
