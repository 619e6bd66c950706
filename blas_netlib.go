//go:build netlib

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Route gonum's matrix products through a system CBLAS when built with
// `-tags netlib`.
func init() {
	blas64.Use(netlib.Implementation{})
}
