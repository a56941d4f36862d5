package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors aggregates every invalid field found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidBackends lists the supported backend types.
func ValidBackends() []string {
	return []string{"ollama", "exec", "mock"}
}

// ValidLogLevels lists the supported log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate returns every invalid value in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Loop.MaxRefinementIterations < 0 {
		errs = append(errs, ValidationError{"loop.max_refinement_iterations", c.Loop.MaxRefinementIterations, "must be >= 0"})
	}
	if c.Loop.MaxReplanAttempts < 0 {
		errs = append(errs, ValidationError{"loop.max_replan_attempts", c.Loop.MaxReplanAttempts, "must be >= 0"})
	}

	if c.Monitor.ReplanThreshold < 0 || c.Monitor.ReplanThreshold > 1 {
		errs = append(errs, ValidationError{"monitor.replan_threshold", c.Monitor.ReplanThreshold, "must be between 0 and 1"})
	}
	if c.Monitor.HistorySize < 1 {
		errs = append(errs, ValidationError{"monitor.history_size", c.Monitor.HistorySize, "must be >= 1"})
	}
	if c.Refine.HistorySize < 1 {
		errs = append(errs, ValidationError{"refine.history_size", c.Refine.HistorySize, "must be >= 1"})
	}
	if c.Refine.MinResponseLength < 0 {
		errs = append(errs, ValidationError{"refine.min_response_length", c.Refine.MinResponseLength, "must be >= 0"})
	}

	if c.Models.Timeout <= 0 {
		errs = append(errs, ValidationError{"models.timeout", c.Models.Timeout, "must be positive"})
	}
	if strings.TrimSpace(c.Models.Orchestrator.Name) == "" {
		errs = append(errs, ValidationError{"models.orchestrator.name", c.Models.Orchestrator.Name, "is required"})
	}
	if strings.TrimSpace(c.Models.Formatter.Name) == "" {
		errs = append(errs, ValidationError{"models.formatter.name", c.Models.Formatter.Name, "is required"})
	}
	if strings.TrimSpace(c.Models.Coder.Name) == "" {
		errs = append(errs, ValidationError{"models.coder.name", c.Models.Coder.Name, "is required"})
	}

	if !slices.Contains(ValidBackends(), c.Backend.Type) {
		errs = append(errs, ValidationError{"backend.type", c.Backend.Type, "must be one of " + strings.Join(ValidBackends(), ", ")})
	}
	if c.Backend.Type == "exec" && strings.TrimSpace(c.Backend.Exec.Command) == "" {
		errs = append(errs, ValidationError{"backend.exec.command", c.Backend.Exec.Command, "is required for the exec backend"})
	}

	if c.Context.MaxFiles < 0 {
		errs = append(errs, ValidationError{"context.max_files", c.Context.MaxFiles, "must be >= 0"})
	}
	if c.Context.MaxFileBytes < 0 || c.Context.MaxTotalBytes < 0 {
		errs = append(errs, ValidationError{"context.max_total_bytes", c.Context.MaxTotalBytes, "byte limits must be >= 0"})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}

	return errs
}
