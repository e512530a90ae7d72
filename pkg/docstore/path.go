package docstore

import (
	"fmt"
	"strings"
)

// Join builds a slash separated store path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath separates a document path into its parent collection and id.
func SplitPath(path string) (collection, id string, err error) {
	segments, err := segmentsOf(path)
	if err != nil {
		return "", "", err
	}
	if len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is a collection path", ErrInvalidPath, path)
	}
	last := len(segments) - 1
	return strings.Join(segments[:last], "/"), segments[last], nil
}

func splitCollection(collection string) ([]string, error) {
	segments, err := segmentsOf(collection)
	if err != nil {
		return nil, err
	}
	if len(segments)%2 != 1 {
		return nil, fmt.Errorf("%w: %q is a document path", ErrInvalidPath, collection)
	}
	return segments, nil
}

func segmentsOf(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return segments, nil
}
