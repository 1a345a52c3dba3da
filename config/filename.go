package config

import "unicode/utf8"

// MaxFileNameLen is the longest file name (in bytes, without extension) we
// produce. Most file systems limit names to 255 bytes and artifacts get
// extensions and temporary suffixes appended.
const MaxFileNameLen = 200

func truncateName(name string) string {
	if len(name) <= MaxFileNameLen {
		return name
	}
	cut := MaxFileNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
