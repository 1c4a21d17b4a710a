package workflow

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrAborted is returned when the operator interrupts a prompt.
var ErrAborted = errors.New("aborted by user")

// UI is the interactive boundary. Every method is one blocking round trip.
type UI interface {
	Input(label, def string) (string, error)
	Password(label string) (string, error)
	Confirm(label string, def bool) (bool, error)
	Select(label string, items []string) (int, error)
	Number(label string, def int64) (int64, error)

	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
}

// inputUntil prompts until parse accepts the answer. Rejections are shown and
// the question is asked again.
func inputUntil[T any](ui UI, label, def string, parse func(string) (T, error)) (T, error) {
	for {
		answer, err := ui.Input(label, def)
		if err != nil {
			var zero T

			return zero, err
		}

		v, err := parse(strings.TrimSpace(answer))
		if err == nil {
			return v, nil
		}

		ui.Warn(err.Error())
	}
}

// numberUntil prompts for a number in [lo, hi].
func numberUntil(ui UI, label string, def, lo, hi int64) (int64, error) {
	for {
		n, err := ui.Number(label, def)
		if err != nil {
			return 0, err
		}

		if n >= lo && n <= hi {
			return n, nil
		}

		ui.Warn("must be between " + strconv.FormatInt(lo, 10) + " and " + strconv.FormatInt(hi, 10))
	}
}
