/*
tiled serves rendered regions and tiles of JPEG 2000 master images.  Images are
named by identifiers that are validated against configured patterns; a master not
yet stored locally is fetched from configured remote locations, converted if
necessary, and kept in a pairtree-organized master store.  Rendered tiles are
cached by fingerprint and can be moved into a permanent tile store.

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	tiled about

Prints the version of the server and the codec engines and request transforms
compiled into the executable.

	tiled serve <config.toml>

Starts the HTTP server described by the TOML configuration.  See package server for
the configuration format.  Images are available at

	/iiif/<identifier>/<region>/<size>/<rotation>/<quality>[.<format>]
	/iiif/<identifier>/info.json
	/status/<identifier>

	tiled plan <width> <height>

Prints the region and scale queries needed to pre-populate a cache for an image of
the given dimensions.

	tiled prewarm <config.toml> <identifier> [concurrency=N]

Renders every tile of an image's pyramid and commits new tiles to the configured
tile store.

	tiled ingest <config.toml> [concurrency=N]

Converts every source image under [ingest] source_dir into the master store,
skipping images that already have a master, then reports the counts and the disk
space left.  With "unattended = true" the serve command starts the same job in the
background, and POST /api/ingest starts one on a running server.

	tiled token <config.toml> <user>

Prints a bearer token for the user, signed with the configured secret key.

Dependencies

Rendering is done by an external codec program configured in the [codec] section,
e.g., Kakadu's kdu_compress and kdu_expand.  Remote masters can be fetched over
HTTP or from file, Google Cloud Storage and S3 buckets.
*/
package main
