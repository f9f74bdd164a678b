package directory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads records from a YAML file, for installations without
// cloud access.
//
//	meshes:
//	  - mesh_id: "home"
//	    mesh_address: "telink_mesh1"
//	    access_key: "123"
//	    devices:
//	      - {device_id: 1, mac: "A4:C1:38:00:00:01", type: 6, name: "Kitchen"}
type FileSource struct {
	Path string
}

type directoryFile struct {
	Meshes []Record `yaml:"meshes"`
}

// Records reads and parses the file.
func (f FileSource) Records(_ context.Context) ([]Record, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading directory file: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing directory file: %w", err)
	}
	return file.Meshes, nil
}
