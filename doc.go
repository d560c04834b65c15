/*
Package procgate documents the procgate module.

This module is CLI-first and ships the procgate command:

	go install github.com/procfoundry/procgate/cmd/procgate@latest

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package procgate
