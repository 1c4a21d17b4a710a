package artifact

import "github.com/sirupsen/logrus"

var log = logrus.WithField("package", "artifact")
