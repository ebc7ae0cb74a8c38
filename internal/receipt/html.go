package receipt

import (
	"embed"
	"io/fs"
)

var (
	//go:embed static/index.html
	indexHTML []byte

	//go:embed static/app.css
	appCSS []byte

	//go:embed static/app.js
	appJS []byte

	//go:embed static/controllers/*.js
	controllersFS embed.FS
)

// getControllersFS returns the embedded controller modules rooted at their directory
func getControllersFS() fs.FS {
	fsys, err := fs.Sub(controllersFS, "static/controllers")
	if err != nil {
		panic(err)
	}
	return fsys
}
