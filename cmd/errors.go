package cmd

import (
	"errors"

	"github.com/marcus/gridsync/internal/output"
	"github.com/marcus/gridsync/internal/syncclient"
)

var errNoDataset = errors.New("no dataset: pass --dataset or run 'gridsync config set dataset NAME'")

// reportError prints err in the CLI's error style, with a hint for the
// error classes a user can act on.
func reportError(err error) {
	switch {
	case errors.Is(err, syncclient.ErrUnauthorized):
		output.Error("%v (check --token or GRIDSYNC_TOKEN)", err)
	default:
		output.Error("%v", err)
	}
}
