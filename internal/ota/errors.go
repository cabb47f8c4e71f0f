package ota

import "errors"

var (
	// ErrManifestFetch indicates the manifest could not be retrieved.
	ErrManifestFetch = errors.New("ota: manifest fetch failed")

	// ErrInvalidManifest indicates the manifest is not the expected JSON.
	ErrInvalidManifest = errors.New("ota: invalid manifest")

	// ErrNoEntry indicates the manifest has no usable entry for this firmware.
	ErrNoEntry = errors.New("ota: no manifest entry for firmware")

	// ErrDownload indicates the binary could not be staged.
	ErrDownload = errors.New("ota: download failed")
)
