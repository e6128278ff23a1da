package helpers

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. Any answer other than yes, including
// Ctrl-C, counts as no.
func Confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
