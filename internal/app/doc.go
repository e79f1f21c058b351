// Package app wires the module loader, the first-use resolver and the
// evaluation engine into one runnable application: load a module
// description, evaluate the requested bindings with a worker pool, print
// the results and diagnostics, and log a metrics snapshot.
package app
