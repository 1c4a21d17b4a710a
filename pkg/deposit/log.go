package deposit

import "github.com/sirupsen/logrus"

var log = logrus.WithField("package", "deposit")
