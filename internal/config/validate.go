package config

import (
	"fmt"

	"docdelta/internal/errors"
	"docdelta/internal/validation"
)

// Validate checks the struct tags on cfg, then the cross-field rules.
func Validate(cfg *Config) error {
	return validation.Struct(cfg)
}

// Validate rejects a chunk budget that leaves no room for file content.
func (c *Config) Validate() error {
	if room := c.Chunk.Budget - c.Chunk.PromptOverhead - c.Chunk.Overlap; room <= 0 {
		return errors.ValidationError(
			fmt.Sprintf("chunk budget %d leaves no room after prompt overhead %d and overlap %d",
				c.Chunk.Budget, c.Chunk.PromptOverhead, c.Chunk.Overlap),
			map[string]int{"budget": c.Chunk.Budget, "prompt_overhead": c.Chunk.PromptOverhead, "overlap": c.Chunk.Overlap},
		)
	}
	return nil
}
