// Package nvstore emulates the node's small non-volatile credential area.
//
// The image is a fixed 256-byte file split into four zero-padded fields:
//
//	[  0, 32)  network SSID
//	[ 32, 96)  network passphrase
//	[ 96,160)  broker username
//	[160,224)  broker password
//
// A freshly created image is filled with the erased-byte value 0xFF. A field
// made entirely of 0xFF or entirely of 0x00 reads back as empty.
package nvstore
