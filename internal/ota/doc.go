// Package ota checks a firmware manifest and stages new binaries.
//
// The manifest is a JSON array published next to the release artefacts:
//
//	[
//	  {"name": "garge-node-climate", "version": "1.4.0", "bin_url": "https://.../garge-node-climate-1.4.0"},
//	  {"name": "garge-node-power",   "version": "1.3.2", "bin_url": "https://.../garge-node-power-1.3.2"}
//	]
//
// The entry whose name equals node.firmware is compared with the running
// version. A different version is an Update. When a download directory is
// configured the binary is fetched to <dir>/<name>-<version>, the
// <dir>/current symlink is pointed at it, and the Checker reports
// node.FaultUpdateAvailable so the supervisor restarts onto it.
package ota
