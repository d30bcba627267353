// Package confloader loads layered configuration with koanf.
//
// Sources are merged in order, later ones winning:
//
//  1. Defaults supplied by the caller
//  2. A YAML file
//  3. Environment variables
//
// Environment variables carry a prefix and use a double underscore between
// sections, so single underscores can stay inside key names:
//
//	CFENV_API__MAX_RETRIES=5   ->  api.max_retries
//	CFENV_WATCH__INTERVAL=10s  ->  watch.interval
//
// Variables with the prefix but without a section separator are ignored.
package confloader
