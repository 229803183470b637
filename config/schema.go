package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaSource constrains every configuration before it reaches the
// dispatch cache.
const schemaSource = `
#Config: {
	cache: {
		bits:          int & >=4 & <=20
		"max-entries": int & >=0
	}
	promotion: {
		threshold: int & >=0 & <=1073741824
	}
	heap: {
		"region-size": int & >=0
		"max-bytes":   int & >=0
	}
	log: {
		verbosity: int & >=-4 & <=3
		file:      string
	}
}
`

// Validate checks the configuration against the schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
