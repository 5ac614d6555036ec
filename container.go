package persidict

// MultiFormatContainer holds several named PersiDict instances that share
// a common key-space - the same root directory or bucket prefix - but
// differ only in serialization format (spec.md §4.10). It is addressed by
// format name, never directly as a mapping: there is no Get/Set on
// MultiFormatContainer itself, only Format, which is a structural
// guarantee (no method to accidentally call), not a runtime check.
type MultiFormatContainer struct {
	formats map[string]PersiDict
}

// NewMultiFormatContainer builds a container from a name->PersiDict map.
// Callers typically construct each entry against the same baseDir/bucket
// with a different Codec, e.g. {"json": jsonDict, "gob": gobDict}.
func NewMultiFormatContainer(formats map[string]PersiDict) *MultiFormatContainer {
	clone := make(map[string]PersiDict, len(formats))
	for name, d := range formats {
		clone[name] = d
	}
	return &MultiFormatContainer{formats: clone}
}

// Format returns the PersiDict registered under name, or nil if no such
// format was registered.
func (c *MultiFormatContainer) Format(name string) PersiDict {
	return c.formats[name]
}

// Formats lists the registered format names.
func (c *MultiFormatContainer) Formats() []string {
	names := make([]string, 0, len(c.formats))
	for name := range c.formats {
		names = append(names, name)
	}
	return names
}

// Close closes every registered format's PersiDict, collecting the first
// error encountered but still attempting to close the rest.
func (c *MultiFormatContainer) Close() error {
	var first error
	for _, d := range c.formats {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
