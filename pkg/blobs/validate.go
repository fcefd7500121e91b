package blobs

import (
	"regexp"
	"strings"
)

const (
	maxKeyBytes       = 600
	maxStoreNameBytes = 64
)

var deployIDPattern = regexp.MustCompile(`^\w{1,24}$`)

// ValidateKey checks that key is usable as a blob key.
func ValidateKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "key", Reason: "blob key must not be empty"}
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "%2F") {
		return &ValidationError{Field: "key", Reason: "blob key must not start with forward slash (/)"}
	}
	if len(key) > maxKeyBytes {
		return &ValidationError{Field: "key", Reason: "blob key must be a sequence of Unicode characters whose UTF-8 encoding is at most 600 bytes long"}
	}
	return nil
}

// ValidateStoreName checks that name is usable as a store name.
func ValidateStoreName(name string) error {
	if strings.Contains(name, "/") || strings.Contains(name, "%2F") {
		return &ValidationError{Field: "store name", Reason: "store name must not contain forward slashes (/)"}
	}
	if len(name) > maxStoreNameBytes {
		return &ValidationError{Field: "store name", Reason: "store name must be a sequence of Unicode characters whose UTF-8 encoding is at most 64 bytes long"}
	}
	return nil
}

// ValidateDeployID checks that deployID looks like a deploy identifier.
func ValidateDeployID(deployID string) error {
	if !deployIDPattern.MatchString(deployID) {
		return &ValidationError{Field: "deploy ID", Reason: "'" + deployID + "' is not a valid deploy ID"}
	}
	return nil
}
