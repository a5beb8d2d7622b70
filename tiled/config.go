package tiled

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
// Keys are case-insensitive.
type Config map[string]interface{}

// NewConfig returns an empty Config.
func NewConfig() Config {
	return make(Config)
}

// Set stores a value under a case-insensitive key.
func (c Config) Set(key string, value interface{}) {
	c[strings.ToLower(key)] = value
}

// Get returns the value for a key and whether it was present.
func (c Config) Get(key string) (interface{}, bool) {
	v, found := c[strings.ToLower(key)]
	return v, found
}

// GetString returns a string value.  Non-string values are an error.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c.Get(key)
	if !found {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("setting %q must be a string, got %v", key, v)
	}
	return s, true, nil
}

// GetInt returns an integer value.  Strings holding integers are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c.Get(key)
	if !found {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case int64:
		return int(t), true, nil
	case float64:
		return int(t), true, nil
	case string:
		i, err = strconv.Atoi(t)
		if err != nil {
			return 0, true, fmt.Errorf("setting %q must be an integer: %v", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("setting %q must be an integer, got %v", key, v)
	}
}

// GetStrings returns a list of strings.  A single string is split on whitespace.
func (c Config) GetStrings(key string) (list []string, found bool, err error) {
	v, found := c.Get(key)
	if !found {
		return nil, false, nil
	}
	switch t := v.(type) {
	case string:
		return strings.Fields(t), true, nil
	case []string:
		return t, true, nil
	case []interface{}:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, true, fmt.Errorf("setting %q must hold strings, got %v", key, item)
			}
			list = append(list, s)
		}
		return list, true, nil
	default:
		return nil, true, fmt.Errorf("setting %q must be a list of strings, got %v", key, v)
	}
}

// ConvertToAbsolute returns an absolute path, treating a relative path as relative
// to the given directory.
func ConvertToAbsolute(path, relativeTo string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(relativeTo, path))
}
