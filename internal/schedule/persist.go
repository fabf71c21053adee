package schedule

import (
	"encoding/json"
	"os"
)

func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func parseState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

func marshalState(st State) ([]byte, error) {
	return json.MarshalIndent(st, "", "  ")
}
