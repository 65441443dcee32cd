package logger

import (
	"log/slog"

	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/theme"
)

// StyledLogger is what components log through. The pretty variant colours
// endpoints, models and readiness states; the plain variant is for JSON/file output and tests.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithModel(msg string, model string, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	ErrorWithEndpoint(msg string, endpoint string, args ...any)
	InfoReadiness(msg string, state domain.ReadinessState, args ...any)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	With(args ...any) StyledLogger
}

func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme builds the slog logger and wraps it in the styled logger that
// matches the output: pretty when colours are in use, plain otherwise
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if !useColours() {
		return logger, NewPlainStyledLogger(logger), cleanup, nil
	}

	appTheme := theme.GetTheme(cfg.Theme)
	return logger, NewPrettyStyledLogger(logger, appTheme), cleanup, nil
}
