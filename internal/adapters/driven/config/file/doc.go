// Package file keeps settings in a TOML file under the user config directory.
package file
