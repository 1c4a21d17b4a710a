package softdevice

import "github.com/sirupsen/logrus"

var log = logrus.WithField("package", "softdevice")
