package logging

import "go.uber.org/zap"

// Zap adapts a *zap.Logger.
type Zap struct{ L *zap.Logger }

func (z Zap) Debug(msg string, f Fields) { z.L.Debug(msg, zf(f)...) }
func (z Zap) Info(msg string, f Fields)  { z.L.Info(msg, zf(f)...) }
func (z Zap) Warn(msg string, f Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Zap) Error(msg string, f Fields) { z.L.Error(msg, zf(f)...) }

func zf(f Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// NewZap builds a production zap logger at the given level
// ("debug", "info", "warn", "error").
func NewZap(level string) (Zap, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return Zap{}, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		return Zap{}, err
	}
	return Zap{L: l}, nil
}
