// Command mkvrsfs creates or wipes a vrsfs backing file.
//
// Grounded on dargueta/disko's cmd/main.go (a one-command urfave/cli/v2
// app), expanded here into a real "format" action that truncates the
// target to an empty file and lets vrsfs.Init do the actual formatting on
// first mount.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/presets"
)

func main() {
	app := &cli.App{
		Name:  "mkvrsfs",
		Usage: "Create or wipe a vrsfs backing file",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Allocate a new, empty vrsfs image",
				ArgsUsage: "IMAGE_PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "preset",
						Usage: fmt.Sprintf("named geometry preset (%v)", presets.Names()),
						Value: "tiny",
					},
				},
				Action: formatImage,
			},
			{
				Name:      "presets",
				Usage:     "List the available geometry presets",
				ArgsUsage: " ",
				Action:    listPresets,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("mkvrsfs: %s", err.Error())
	}
}

func formatImage(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("missing IMAGE_PATH argument", 1)
	}

	geometry, err := presets.Get(c.String("preset"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := geometry.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return allocateImage(path, geometry)
}

// allocateImage wipes path to a zero-length file. It deliberately does not
// pre-size the file: vrsfs.Init treats size == 0 as "format me". Formatting
// writes the superblock, bitmaps, inode table and the root directory's
// first data block; the file grows beyond that only as data blocks are
// allocated, up to the geometry's full size at most.
func allocateImage(path string, geometry geom.Geometry) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Close()

	fmt.Printf(
		"allocated %s (%d blocks of %d bytes, %d bytes at full capacity); run vrsmount to format and mount it\n",
		path, geometry.TotalBlocks(), geometry.BlockSize, geometry.TotalBytes(),
	)
	return nil
}

func listPresets(c *cli.Context) error {
	for _, name := range presets.Names() {
		geometry, err := presets.Get(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s block=%d inodes=%d total=%d bytes\n", name, geometry.BlockSize, geometry.NInodes, geometry.TotalBytes())
	}
	return nil
}
