package codec

import "github.com/bytedance/sonic"

var jsonConfig = sonic.ConfigStd

// Marshal encodes v as standard JSON.
func Marshal(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

// Unmarshal decodes standard JSON into v.
func Unmarshal(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

func encodeJSON[T any](evt T) ([]byte, error) {
	return Marshal(evt)
}

func decodeJSON[T any](data []byte) (T, error) {
	var out T
	err := Unmarshal(data, &out)
	return out, err
}
