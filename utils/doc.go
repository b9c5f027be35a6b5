// Package utils provides small formatting helpers shared by the entity renderer and
// the CLI.
//
// It contains:
//   - Clock formatting of departure instants in the configured time zone
//   - Validity window text for service messages
//   - Title truncation and affected-line formatting
package utils
