package patterns

import _ "embed"

// BuiltinYAML is the pattern file bundled with the binary, covering the
// handful of assistants this wrapper ships hints for out of the box. Users
// extend or override it via their own pattern file (see Load).
//
//go:embed builtin.yaml
var BuiltinYAML []byte

// LoadDefault loads the Registry from the embedded built-in document and an
// optional user document at userPath (which may not exist).
func LoadDefault(userPath string) (*Registry, error) {
	userYAML, err := LoadPatternFile(userPath)
	if err != nil {
		return nil, err
	}
	return Load(BuiltinYAML, userYAML)
}
