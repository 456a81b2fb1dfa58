// Package presets holds a catalog of named geom.Geometry values that
// cmd/mkvrsfs can format an image from by slug instead of requiring every
// field on the command line.
//
// Grounded on dargueta/disko's disks/disks.go: an embedded CSV parsed with
// gocsv.UnmarshalToCallback into a slug-keyed map at package init.
package presets

import (
	"fmt"
	"io"
	"strings"

	_ "embed"

	"github.com/gocarina/gocsv"

	"github.com/vrsfs/vrsfs/geom"
)

//go:embed geometries.csv
var rawCSV string

// row is the CSV-tagged shape gocsv decodes each line into.
type row struct {
	Slug       string `csv:"slug"`
	Name       string `csv:"name"`
	BlockSize  uint32 `csv:"block_size"`
	NDirect    uint32 `csv:"n_direct"`
	NInodes    uint32 `csv:"n_inodes"`
	InodeSize  uint32 `csv:"inode_size"`
	MaxNameLen uint32 `csv:"max_name_len"`
	DentrySize uint32 `csv:"dentry_size"`
}

type entry struct {
	Name     string
	Geometry geom.Geometry
}

var catalog map[string]entry

func init() {
	catalog = make(map[string]entry)

	reader := strings.NewReader(rawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(r row) error {
		if _, exists := catalog[r.Slug]; exists {
			return fmt.Errorf("duplicate preset geometry slug %q", r.Slug)
		}
		catalog[r.Slug] = entry{
			Name: r.Name,
			Geometry: geom.Geometry{
				BlockSize:  r.BlockSize,
				NDirect:    r.NDirect,
				NInodes:    r.NInodes,
				InodeSize:  r.InodeSize,
				MaxNameLen: r.MaxNameLen,
				DentrySize: r.DentrySize,
			},
		}
		return nil
	})
	if err != nil && err != io.EOF {
		panic(fmt.Sprintf("presets: malformed embedded geometry catalog: %v", err))
	}
}

// Get returns the geometry registered under slug.
func Get(slug string) (geom.Geometry, error) {
	e, ok := catalog[slug]
	if !ok {
		return geom.Geometry{}, fmt.Errorf("no predefined geometry named %q", slug)
	}
	return e.Geometry, nil
}

// Names lists every known preset slug.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for slug := range catalog {
		names = append(names, slug)
	}
	return names
}
