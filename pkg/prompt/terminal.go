// Package prompt is the terminal implementation of the workflow UI.
package prompt

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"

	"github.com/ethpandaops/validator-deposits/pkg/workflow"
)

// Terminal prompts on a terminal with promptui and prints coloured status lines.
type Terminal struct {
	in  io.ReadCloser
	out io.WriteCloser
	au  aurora.Aurora
}

// NewTerminal returns a Terminal reading from in and writing to out.
func NewTerminal(in io.ReadCloser, out io.WriteCloser, color bool) *Terminal {
	return &Terminal{in: in, out: out, au: aurora.NewAurora(color)}
}

// Stdio returns a coloured Terminal on the process's standard streams.
func Stdio() *Terminal {
	return NewTerminal(os.Stdin, os.Stdout, true)
}

var _ workflow.UI = (*Terminal)(nil)

func (t *Terminal) prompt(label, def string, validate promptui.ValidateFunc, mask rune) (string, error) {
	p := promptui.Prompt{
		Label:    t.au.Bold(label).String(),
		Default:  def,
		Validate: validate,
		Mask:     mask,
		Stdin:    t.in,
		Stdout:   t.out,
	}

	answer, err := p.Run()
	if err != nil {
		return "", formatPromptError(err)
	}

	return answer, nil
}

func (t *Terminal) Input(label, def string) (string, error) {
	return t.prompt(label, def, nil, 0)
}

func (t *Terminal) Password(label string) (string, error) {
	return t.prompt(label, "", nil, '*')
}

func (t *Terminal) Confirm(label string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}

	answer, err := t.prompt(label+" [y/n]", d, validateYesNo, 0)
	if err != nil {
		return false, err
	}

	return parseYesNo(answer)
}

func (t *Terminal) Select(label string, items []string) (int, error) {
	s := promptui.Select{
		Label:  t.au.Bold(label).String(),
		Items:  items,
		Stdin:  t.in,
		Stdout: t.out,
	}

	i, _, err := s.Run()
	if err != nil {
		return 0, formatPromptError(err)
	}

	return i, nil
}

func (t *Terminal) Number(label string, def int64) (int64, error) {
	answer, err := t.prompt(label, strconv.FormatInt(def, 10), validateNumber, 0)
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(strings.TrimSpace(answer), 10, 64)
}

func (t *Terminal) Info(msg string) {
	fmt.Fprintf(t.out, "ℹ️  %s\n", msg)
}

func (t *Terminal) Success(msg string) {
	fmt.Fprintf(t.out, "%s %s\n", "✅", t.au.Green(msg))
}

func (t *Terminal) Warn(msg string) {
	fmt.Fprintf(t.out, "%s %s\n", "⚠️ ", t.au.Yellow(msg))
}

func (t *Terminal) Error(msg string) {
	fmt.Fprintf(t.out, "%s %s\n", "❌", t.au.Red(msg))
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, errors.Errorf("answer y or n, got %q", s)
	}
}

func validateYesNo(s string) error {
	_, err := parseYesNo(s)

	return err
}

func validateNumber(s string) error {
	if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
		return errors.New("enter a whole number")
	}

	return nil
}

// formatPromptError maps promptui's terminal errors to workflow.ErrAborted.
func formatPromptError(err error) error {
	switch err {
	case promptui.ErrAbort:
		return errors.Wrap(workflow.ErrAborted, "prompt aborted")
	case promptui.ErrInterrupt:
		return errors.Wrap(workflow.ErrAborted, "keyboard interrupt")
	case promptui.ErrEOF:
		return errors.Wrap(workflow.ErrAborted, "no input received")
	default:
		return err
	}
}
