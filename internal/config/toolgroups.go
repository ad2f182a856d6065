package config

import (
	"bytes"
	_ "embed"
	"io"

	"gopkg.in/yaml.v3"
)

// defaultToolGroupMappingYAML is the mapping shipped alongside the binary,
// covering the tool names the bundled tool-server exposes out of the box.
// Operators may point the supervisor at a different file to extend it.
//
//go:embed toolgroups.default.yaml
var defaultToolGroupMappingYAML []byte

// DefaultToolGroupMapping decodes the embedded default mapping. It only
// returns an error if the embedded resource itself was corrupted at build
// time, which would indicate a packaging bug rather than a runtime
// condition callers need to handle gracefully.
func DefaultToolGroupMapping() (ToolGroupMapping, error) {
	return LoadToolGroupMapping(bytes.NewReader(defaultToolGroupMappingYAML))
}

func yamlDecoder(r io.Reader) *yaml.Decoder {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	return dec
}
