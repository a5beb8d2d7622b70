/*
Package server provides the HTTP interface to the tile service: IIIF image and
info.json requests, migration status, and server information.  It also loads the
TOML configuration that wires the service's collaborators together.

Example configuration:

	[server]
	httpAddress = "localhost:8080"
	cors_domains = ["https://viewer.example.org"]

	[logging]
	logfile = "./tiled.log"
	level = "info"

	[resolver]
	master_dir = "./masters"
	patterns = ['ark:/13030/(\w+)']
	templates = ["https://images.example.org/%s.tif"]
	join_timeout = "300s"

	[cache]
	dir = "./cache"
	tile_dir = "./tiles"
	capacity = 1000
	exceptions = [0.25, 0.5]

	[codec]
	engine = "exec"
	extract = ["kdu_expand", "-i", "{{.Input}}", ...]

	[ingest]
	source_dir = "./incoming"
	exts = ["tif", "tiff"]
	concurrency = 2
	unattended = true

	[transform]
	name = "access"
	allow = "192.168."
*/
package server
