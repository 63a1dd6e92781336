package logging

import "github.com/sirupsen/logrus"

// Logrus adapts a *logrus.Entry.
type Logrus struct{ E *logrus.Entry }

func (l Logrus) Debug(msg string, f Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logrus) Info(msg string, f Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logrus) Warn(msg string, f Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logrus) Error(msg string, f Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }

// NewLogrus builds a JSON logrus logger at the given level.
func NewLogrus(level string) (Logrus, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return Logrus{}, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{})
	return Logrus{E: logrus.NewEntry(l)}, nil
}
