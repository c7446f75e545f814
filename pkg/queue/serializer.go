package queue

import (
	"encoding/json"
	"strings"

	"github.com/yvasiyarov/php_session_decoder/php_serialize"
)

// UnserializeCommand attempts to parse the PHP serialized command from the job payload
func UnserializeCommand(data json.RawMessage) (any, error) {
	var dataMap map[string]interface{}
	if err := json.Unmarshal(data, &dataMap); err != nil {
		return nil, err
	}

	commandStr, ok := dataMap["command"].(string)
	if !ok {
		// Plain data job, nothing to unserialize
		return dataMap, nil
	}

	return php_serialize.UnSerialize(commandStr)
}

// GetPHPProperty extracts a property from an unserialized PHP object or array.
// Public, protected and private members are all matched by their bare name.
func GetPHPProperty(obj any, propName string) any {
	switch v := obj.(type) {
	case *php_serialize.PhpObject:
		if val, ok := v.GetPublic(propName); ok {
			return val
		}
		if val, ok := v.GetProtected(propName); ok {
			return val
		}
		if val, ok := v.GetPrivate(propName); ok {
			return val
		}
		// Protected members are keyed "\0*\0name", private ones "\0Class\0name"
		for k, val := range v.GetMembers() {
			kStr, ok := k.(string)
			if !ok {
				continue
			}
			if kStr == propName || strings.HasSuffix(kStr, "\x00"+propName) {
				return val
			}
		}
	case php_serialize.PhpArray:
		if val, ok := v[propName]; ok {
			return val
		}
	case map[string]interface{}:
		if val, ok := v[propName]; ok {
			return val
		}
	}
	return nil
}
