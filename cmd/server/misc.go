package main

import (
	"encoding/base64"
	"fmt"
)

func decodeBase64Field(s string, name string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%v missing", name)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%v parse failed: %v", name, err)
	}
	return b, nil
}
