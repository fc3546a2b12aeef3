package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner runs action behind a titled spinner. Without a terminal the
// action runs directly so piped output stays clean.
func ShowSpinner(ctx context.Context, title string, action func(ctx context.Context) error) error {
	if !HasTTY {
		return action(ctx)
	}
	var err error
	if serr := spinner.New().Context(ctx).Title(title).Action(func() {
		err = action(ctx)
	}).Run(); serr != nil {
		return serr
	}
	return err
}
