// Package config loads the connection manager's YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before parsing.
// LoadAndValidate is the usual entry point: it applies defaults for every
// optional field and then checks the result.
package config
