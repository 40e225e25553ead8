package logger

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

type LogrusAdapter struct {
	logger *logrus.Logger
}

// NewLogrus writes key=value text lines. level uses the zerolog scale so all
// backends share ParseLevel.
func NewLogrus(w io.Writer, level zerolog.Level) *LogrusAdapter {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetLevel(logrusLevel(level))
	return &LogrusAdapter{logger: l}
}

func logrusLevel(level zerolog.Level) logrus.Level {
	switch level {
	case zerolog.TraceLevel:
		return logrus.TraceLevel
	case zerolog.DebugLevel:
		return logrus.DebugLevel
	case zerolog.WarnLevel:
		return logrus.WarnLevel
	case zerolog.ErrorLevel:
		return logrus.ErrorLevel
	case zerolog.FatalLevel:
		return logrus.FatalLevel
	case zerolog.PanicLevel:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *LogrusAdapter) entry(component string, fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithField("component", component).WithFields(logrus.Fields(fields))
}

func (l *LogrusAdapter) Debug(component, message string, fields map[string]interface{}) {
	l.entry(component, fields).Debug(message)
}

func (l *LogrusAdapter) Info(component, message string, fields map[string]interface{}) {
	l.entry(component, fields).Info(message)
}

func (l *LogrusAdapter) Warning(component, message string, fields map[string]interface{}) {
	l.entry(component, fields).Warn(message)
}

func (l *LogrusAdapter) Error(component string, err error, fields map[string]interface{}) {
	l.entry(component, fields).WithError(err).Error("operation failed")
}
