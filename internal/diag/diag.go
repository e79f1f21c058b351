// Package diag provides the diagnostic plumbing for the evaluator. It
// reuses hcl.Diagnostics as the diagnostic type so that findings produced by
// binding computations and findings produced by the module loader share one
// representation, and so that subjects carry real source ranges.
package diag

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/bindgraph/internal/nodeid"
)

// SubjectRange maps a binding key's source position onto an hcl.Range so a
// diagnostic can point at the binding that produced it.
func SubjectRange(filename string, key nodeid.Key) *hcl.Range {
	pos := hcl.Pos{Line: key.Line, Column: key.Col}
	return &hcl.Range{Filename: filename, Start: pos, End: pos}
}

// Collector buffers the diagnostics of a single binding computation. The
// buffered set is committed together with the answer that produced it, or
// discarded together with that answer; it is never split.
type Collector struct {
	diags hcl.Diagnostics
}

// Errorf appends an error-severity diagnostic.
func (c *Collector) Errorf(subject *hcl.Range, summary, format string, args ...any) {
	c.diags = c.diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  subject,
	})
}

// Warnf appends a warning-severity diagnostic.
func (c *Collector) Warnf(subject *hcl.Range, summary, format string, args ...any) {
	c.diags = c.diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagWarning,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  subject,
	})
}

// Extend appends an existing diagnostic set.
func (c *Collector) Extend(diags hcl.Diagnostics) {
	c.diags = c.diags.Extend(diags)
}

// HasErrors reports whether any buffered diagnostic is error severity.
func (c *Collector) HasErrors() bool {
	return c.diags.HasErrors()
}

// Take returns the buffered diagnostics and resets the collector.
func (c *Collector) Take() hcl.Diagnostics {
	d := c.diags
	c.diags = nil
	return d
}

// Len returns the number of buffered diagnostics.
func (c *Collector) Len() int {
	return len(c.diags)
}
