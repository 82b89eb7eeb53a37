package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hyperjump/facegate/internal/cli"
	"github.com/hyperjump/facegate/internal/models"
)

// errNotRecognized makes a verify miss exit non-zero after its report is printed.
var errNotRecognized = errors.New("face not recognized")

func writeResponse(cmd *cobra.Command, resp *models.StandardResponse, format cli.OutputFormat) error {
	if err := cli.WriteResponse(cmd.OutOrStdout(), resp, format); err != nil {
		return err
	}
	if !resp.Success {
		return errNotRecognized
	}
	return nil
}
