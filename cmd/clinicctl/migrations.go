package main

import (
	"io/fs"
	"os"

	"github.com/hackgods/clinic-booking/migrations"
)

func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}
