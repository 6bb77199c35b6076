// Package setup holds the default on-disk locations of the builder and the
// scripts that initialize them.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
