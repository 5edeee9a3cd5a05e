package metadatastore

import "encoding/json"

// marshalJSON and unmarshalJSON are the wire serializer for every entity
// this package stores: canonical UTF-8 JSON. Unmarshal tolerates unknown
// fields (encoding/json's default) so a store can be read by an older
// binary than the one that wrote it.
func marshalJSON[T any](v T) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
