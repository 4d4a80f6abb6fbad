package bridge

import (
	"github.com/tedee/lock-command/pkg/protocol"
)

// Arguments holds the named arguments of a command, as decoded from JSON.
type Arguments map[string]interface{}

func missingParamError(key string) error {
	return protocol.InvalidArgument("missing %s", key)
}

func invalidParamError(key string) error {
	return protocol.InvalidArgument("invalid value for %s", key)
}

func (a Arguments) getString(key string, required bool) (string, error) {
	value, exists := a[key]

	if exists {
		if strValue, isString := value.(string); isString {
			if strValue != "" || !required {
				return strValue, nil
			}
			return "", missingParamError(key)
		}
		return "", invalidParamError(key)
	}

	if !required {
		return "", nil
	}

	return "", missingParamError(key)
}

func (a Arguments) getBool(key string, defaultValue bool) (bool, error) {
	value, exists := a[key]
	if !exists || value == nil {
		return defaultValue, nil
	}
	if val, isBool := value.(bool); isBool {
		return val, nil
	}
	return false, invalidParamError(key)
}
