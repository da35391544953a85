package telemetry

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// InitLogging configures the global logrus logger from LOG_LEVEL / LOG_FORMAT values.
// Unknown levels fall back to info.
func InitLogging(level, format string) {
	logrus.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if err != nil && level != "" {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", level)
	}
}
