package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose name matches Pattern. A pattern is a
// dot separated logger name where a "*" section matches anything, e.g. "sfmlink.*.visibility".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// e.g. "foo" or "a1b2c3d4".
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "foo" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "foo.*.foo".
	validLoggerSectionsWithWildcard = validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*`
	validLoggerName                 = `^` + validLoggerSectionsWithWildcard + `$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

func validatePattern(pattern string) bool {
	return loggerPatternRegexp.MatchString(pattern)
}

func buildRegexFromPattern(pattern string) string {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return matcher.String()
}

// Validate checks the pattern and the level.
func (lpc LoggerPatternConfig) Validate() error {
	if !validatePattern(lpc.Pattern) {
		return errors.Errorf("invalid logger pattern %q", lpc.Pattern)
	}
	if _, err := LevelFromString(lpc.Level); err != nil {
		return err
	}
	return nil
}

type compiledPattern struct {
	re    *regexp.Regexp
	level Level
}

func compilePatterns(cfgs []LoggerPatternConfig) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(cfgs))
	for _, lpc := range cfgs {
		if err := lpc.Validate(); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return nil, err
		}
		//nolint:errcheck
		level, _ := LevelFromString(lpc.Level)
		compiled = append(compiled, compiledPattern{re: re, level: level})
	}
	return compiled, nil
}
