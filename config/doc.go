// Package config handles application configuration loading, validation and saving.
//
// Configuration is loaded from config.yml and validated using struct tags. Values
// from .env and .env.local, and then the process environment, override the scalar
// settings so a container can be configured without editing the file. Stations
// added by the interactive setup flow are written back with Save.
package config
