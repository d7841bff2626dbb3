package logging

import (
	"sort"
	"sync"
)

type registeredLogger struct {
	logger Logger
	// base is the level the logger had when it was registered. It is restored when no pattern
	// matches the logger anymore.
	base Level
}

// Registry tracks named loggers and applies level patterns to them. The last matching pattern
// wins.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]registeredLogger
	logConfig []LoggerPatternConfig
	patterns  []compiledPattern
}

// NewRegistry returns an empty registry with no patterns.
func NewRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]registeredLogger),
	}
}

func (lr *Registry) levelFor(name string, base Level) Level {
	level := base
	for _, p := range lr.patterns {
		if p.re.MatchString(name) {
			level = p.level
		}
	}
	return level
}

// UpdateConfig replaces the patterns and re-levels every registered logger.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig) error {
	patterns, err := compilePatterns(logConfig)
	if err != nil {
		return err
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig
	lr.patterns = patterns
	for name, rl := range lr.loggers {
		rl.logger.SetLevel(lr.levelFor(name, rl.base))
	}
	return nil
}

// Register either returns the logger already registered under logger's name, or registers
// logger and levels it by the current patterns.
//
// If concurrent callers register the same name, all of them get the winner's logger.
func (lr *Registry) Register(logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	name := logger.Name()
	if existing, ok := lr.loggers[name]; ok {
		return existing.logger
	}
	base := logger.GetLevel()
	lr.loggers[name] = registeredLogger{logger: logger, base: base}
	logger.SetLevel(lr.levelFor(name, base))
	return logger
}

// Sublogger creates parent's sublogger and registers it.
func (lr *Registry) Sublogger(parent Logger, subname string) Logger {
	return lr.Register(parent.Sublogger(subname))
}

// LoggerNamed returns the logger registered under name.
func (lr *Registry) LoggerNamed(name string) (Logger, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	rl, ok := lr.loggers[name]
	return rl.logger, ok
}

// RegisteredNames returns the sorted names of every registered logger.
func (lr *Registry) RegisteredNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CurrentConfig returns the patterns last passed to UpdateConfig.
func (lr *Registry) CurrentConfig() []LoggerPatternConfig {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	return lr.logConfig
}
