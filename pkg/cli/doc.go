// Package cli implements the exogress command-line interface.
package cli
