// Package crewclient is a Go client for the ContentCrew daemon API. It
// submits kickoffs, reads their state and polls until they finish.
package crewclient
